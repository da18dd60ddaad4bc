package scraper

import (
	"bytes"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skippedExtensions = map[string]bool{
	".pdf": true, ".zip": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".svg": true, ".webp": true, ".ico": true, ".css": true,
	".js": true, ".mp3": true, ".mp4": true, ".xml": true, ".json": true,
}

// scope decides which discovered links belong to the crawl.
type scope struct {
	host       string
	root       string
	subdomains bool
}

func newScope(start *url.URL, includeSubdomains bool) scope {
	host := start.Hostname()
	return scope{
		host:       host,
		root:       strings.TrimPrefix(host, "www."),
		subdomains: includeSubdomains,
	}
}

func (s scope) contains(u *url.URL) bool {
	h := u.Hostname()
	if h == s.host {
		return true
	}
	if !s.subdomains {
		return false
	}
	return h == s.root || strings.HasSuffix(h, "."+s.root)
}

// extractLinks returns the absolute http(s) links of an HTML page, in
// document order and without duplicates.
func extractLinks(body []byte, base *url.URL) []*url.URL {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var (
		links []*url.URL
		seen  = map[string]bool{}
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				if u := resolveLink(base, a.Val); u != nil && !seen[u.String()] {
					seen[u.String()] = true
					links = append(links, u)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links
}

func resolveLink(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	if skippedExtensions[strings.ToLower(path.Ext(u.Path))] {
		return nil
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u
}

// visibleText is the fallback extraction: the page title and every text
// node outside script, style and noscript.
func visibleText(body []byte) (string, string) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}

	var (
		title string
		b     strings.Builder
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Title:
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				b.WriteString(t)
				b.WriteString("\n")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return title, strings.TrimSpace(b.String())
}
