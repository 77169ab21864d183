package extract

import (
	"fmt"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

// htmlConverter turns exported portfolio pages into markdown text, dropping page chrome.
type htmlConverter struct {
	conv *md.Converter
}

func newHTMLConverter() *htmlConverter {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	conv.Remove("script", "style", "noscript", "nav", "footer", "form", "iframe")
	return &htmlConverter{conv: conv}
}

func (h *htmlConverter) convert(content []byte) (string, error) {
	out, err := h.conv.ConvertBytes(content)
	if err != nil {
		return "", fmt.Errorf("convert HTML: %w", err)
	}
	return string(out), nil
}
