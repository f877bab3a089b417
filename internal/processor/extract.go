package processor

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// extraction is the result of pulling text out of one uploaded file.
type extraction struct {
	Text  string
	Pages int
}

func extract(filename, path string) (extraction, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return extractPDF(path)
	case ".docx":
		return extractDOCX(path)
	default:
		return extractPlainText(path)
	}
}

func extractPDF(path string) (extraction, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return extraction{}, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	totalPages := reader.NumPage()
	var buf strings.Builder
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely
			continue
		}
		buf.WriteString(text)
		buf.WriteString(" ")
	}
	text := normalizeText(buf.String())
	if text == "" {
		return extraction{}, fmt.Errorf("no text extracted from pdf")
	}
	return extraction{Text: text, Pages: totalPages}, nil
}

func extractDOCX(path string) (extraction, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return extraction{}, fmt.Errorf("open docx: %w", err)
	}
	defer reader.Close()
	var data []byte
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return extraction{}, fmt.Errorf("read docx body: %w", err)
		}
		data, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return extraction{}, fmt.Errorf("read docx content: %w", err)
		}
		break
	}
	if len(data) == 0 {
		return extraction{}, fmt.Errorf("docx has no document body")
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return extraction{}, fmt.Errorf("parse docx body: %w", err)
	}
	text := normalizeText(extractNodeText(doc))
	if text == "" {
		return extraction{}, fmt.Errorf("no text extracted from docx")
	}
	return extraction{Text: text}, nil
}

func extractPlainText(path string) (extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return extraction{}, fmt.Errorf("read file: %w", err)
	}
	text := normalizeText(string(data))
	if text == "" {
		return extraction{}, fmt.Errorf("file contains no text")
	}
	return extraction{Text: text}, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func extractNodeText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "w:p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}

// summarize returns the leading sentences of the text, capped in length.
func summarize(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 300
	}
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	cut := text[:maxLen]
	if idx := strings.LastIndexAny(cut, ".!?"); idx > maxLen/2 {
		return strings.TrimSpace(cut[:idx+1])
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "with": true, "this": true,
	"that": true, "from": true, "they": true, "have": true, "was": true,
	"were": true, "her": true, "his": true, "its": true, "can": true,
	"will": true, "into": true, "than": true, "then": true, "them": true,
	"there": true, "their": true, "what": true, "when": true, "which": true,
	"your": true, "has": true, "had": true, "our": true, "out": true,
	"about": true, "also": true, "been": true, "more": true, "other": true,
	"some": true, "such": true, "only": true, "these": true, "would": true,
}

// extractKeywords picks the most frequent non-stopword terms.
func extractKeywords(text string, max int) string {
	if max <= 0 {
		max = 8
	}
	counts := make(map[string]int)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, ".,;:!?\"'()[]{}«»—–-")
		if len(word) < 3 || stopwords[word] {
			continue
		}
		counts[word]++
	}
	type freq struct {
		word  string
		count int
	}
	ranked := make([]freq, 0, len(counts))
	for word, count := range counts {
		ranked = append(ranked, freq{word, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	words := make([]string, 0, len(ranked))
	for _, f := range ranked {
		words = append(words, f.word)
	}
	return strings.Join(words, ", ")
}
