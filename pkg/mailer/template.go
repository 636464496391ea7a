package mailer

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}}</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; background-color: #f5f5f5; }
    .container { background-color: #ffffff; border-radius: 8px; padding: 30px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
    .header { text-align: center; margin-bottom: 30px; padding-bottom: 20px; border-bottom: 2px solid #f0f0f0; }
    .logo { font-size: 28px; font-weight: bold; color: #2c3e50; }
    .content { margin: 20px 0; }
    h1, h2, h3 { color: #2c3e50; }
    .footer { margin-top: 30px; padding-top: 20px; border-top: 2px solid #f0f0f0; text-align: center; font-size: 14px; color: #666; }
    hr { border: none; border-top: 1px solid #f0f0f0; margin: 20px 0; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header"><div class="logo">{{.Brand}}</div></div>
    <div class="content">{{.Content}}</div>
    <div class="footer">
      <p>&copy; {{.Year}} {{.Brand}}. All rights reserved.</p>
      <p>This email was sent from {{.Brand}} system. Please do not reply to this email.</p>
    </div>
  </div>
</body>
</html>
`))

// Wrap renders content inside the branded layout. content is trusted HTML built by the caller.
func Wrap(brand, title, content string) (string, error) {
	var buf bytes.Buffer
	err := layout.Execute(&buf, struct {
		Brand, Title string
		Content      template.HTML
		Year         int
	}{brand, title, template.HTML(content), time.Now().Year()})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Escape HTML-escapes user text and turns newlines into <br>.
func Escape(s string) string {
	return strings.ReplaceAll(template.HTMLEscapeString(s), "\n", "<br>")
}

var blockTags = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Hr: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
}

// PlainText strips tags from an HTML fragment, keeping block boundaries as line breaks.
func PlainText(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidy(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Style || a == atom.Script {
				skip++
			}
			if blockTags[a] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if (a == atom.Style || a == atom.Script) && skip > 0 {
				skip--
			}
			if blockTags[a] {
				b.WriteByte('\n')
			}
		}
	}
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
