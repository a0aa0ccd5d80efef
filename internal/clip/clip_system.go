//go:build linux || darwin || windows

package clip

import (
	"fmt"

	"golang.design/x/clipboard"
)

func readSystem() []Item {
	var items []Item
	if text := clipboard.Read(clipboard.FmtText); len(text) > 0 {
		items = append(items, Item{MIME: MIMEText, Data: text})
	}
	if img := clipboard.Read(clipboard.FmtImage); len(img) > 0 {
		items = append(items, Item{MIME: MIMEPNG, Data: img})
	}
	return items
}

func writeSystem(items []Item) error {
	for _, it := range items {
		switch it.MIME {
		case MIMEText:
			clipboard.Write(clipboard.FmtText, it.Data)
		case MIMEPNG:
			clipboard.Write(clipboard.FmtImage, it.Data)
		default:
			return fmt.Errorf("unsupported MIME type: %s", it.MIME)
		}
	}
	return nil
}
