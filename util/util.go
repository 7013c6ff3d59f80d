package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"html"
	"regexp"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

type RsaKeyPair struct {
	Private string
	Public  string
}

// Mention is a @name@host reference found in user supplied text
type Mention struct {
	Name   string
	Domain string
}

var (
	markdownLinkRegex = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
	paragraphRegex    = regexp.MustCompile(`\n\s*\n`)
	mentionRegex      = regexp.MustCompile(`(?:^|[^\w@])@([a-zA-Z0-9_.-]+)@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)
)

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// UserAgent is sent with every outgoing federation request
func UserAgent() string {
	return fmt.Sprintf("%s/%s ActivityPub", Name, GetVersion())
}

// NormalizeInput flattens single line input such as titles and escapes HTML
func NormalizeInput(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	return html.EscapeString(normalized)
}

// RenderContent turns user text into the HTML carried by posts and comments.
// Blank lines separate paragraphs, single newlines become <br>, and Markdown
// links become anchors. Everything else is escaped.
func RenderContent(text string) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n")
	if text == "" {
		return ""
	}
	var b strings.Builder
	for _, para := range paragraphRegex.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, l := range lines {
			lines[i] = MarkdownLinksToHTML(html.EscapeString(l))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

// GeneratePemKeypair creates an RSA key pair for signing federation requests.
// The public key is PKIX encoded, which is what peers expect in publicKeyPem.
func GeneratePemKeypair() (*RsaKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		},
	)

	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		},
	)

	return &RsaKeyPair{Private: string(keyPEM), Public: string(pubPEM)}, nil
}

// MarkdownLinksToHTML converts Markdown links [text](url) to HTML <a> tags.
// The input is expected to be HTML escaped already.
func MarkdownLinksToHTML(text string) string {
	return markdownLinkRegex.ReplaceAllString(text, `<a href="$2" target="_blank" rel="noopener noreferrer">$1</a>`)
}

// ExtractMentions returns the distinct @name@host mentions in text, in order of appearance
func ExtractMentions(text string) []Mention {
	seen := make(map[string]bool)
	var mentions []Mention
	for _, m := range mentionRegex.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1] + "@" + m[2])
		if seen[key] {
			continue
		}
		seen[key] = true
		mentions = append(mentions, Mention{Name: m[1], Domain: m[2]})
	}
	return mentions
}
