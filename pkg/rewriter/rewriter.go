// Package rewriter mutates HTML as it streams through, without building a DOM.
package rewriter

import (
	"bufio"
	"io"
	"mime"
	"strings"

	"golang.org/x/net/html"
)

// IsHTML reports whether a Content-Type header names an HTML document.
func IsHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
	}
	return mediaType == "text/html"
}

// AppendClass returns a reader yielding the document from r with class added
// to the first start tag named tag. All other bytes are copied through as
// they were read. Closing the returned reader stops the transformation.
func AppendClass(r io.Reader, tag, class string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(appendClass(pw, r, strings.ToLower(tag), class))
	}()
	return pr
}

func appendClass(w io.Writer, r io.Reader, tag, class string) error {
	bw := bufio.NewWriter(w)
	z := html.NewTokenizer(r)
	done := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return err
			}
			return bw.Flush()
		}

		if !done && (tt == html.StartTagToken || tt == html.SelfClosingTagToken) {
			raw := append([]byte(nil), z.Raw()...)
			tok := z.Token()
			if tok.Data != tag {
				if _, err := bw.Write(raw); err != nil {
					return err
				}
				continue
			}
			done = true
			tok.Attr = withClass(tok.Attr, class)
			if _, err := bw.WriteString(tok.String()); err != nil {
				return err
			}
			continue
		}

		if _, err := bw.Write(z.Raw()); err != nil {
			return err
		}
	}
}

func withClass(attrs []html.Attribute, class string) []html.Attribute {
	for i, a := range attrs {
		if a.Namespace != "" || a.Key != "class" {
			continue
		}
		for _, existing := range strings.Fields(a.Val) {
			if existing == class {
				return attrs
			}
		}
		if strings.TrimSpace(a.Val) == "" {
			attrs[i].Val = class
		} else {
			attrs[i].Val = a.Val + " " + class
		}
		return attrs
	}
	return append(attrs, html.Attribute{Key: "class", Val: class})
}
