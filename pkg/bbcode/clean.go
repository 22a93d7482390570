// Package bbcode converts the remote's escaped-HTML post comments into the
// legacy archiver's BBCode-flavored plain text: unescape HTML entities,
// translate a small set of formatting tags to their BBCode equivalent, and
// drop the tags (links, word-break hints) that carry no archived meaning.
package bbcode

import (
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/net/html"
)

var entityReplacer = strings.NewReplacer(
	"&gt;", ">",
	"&#039;", "'",
	"&quot;", `"`,
	"&lt;", "<",
	"&amp;", "&",
)

// Unescape decodes the small set of HTML entities the remote actually
// emits in post text. Any other entity-looking sequence is left as-is and,
// if logger is non-nil, logged as unrecognized.
func Unescape(input string, logger log.Logger) string {
	if !strings.Contains(input, "&") {
		return input
	}
	out := entityReplacer.Replace(input)
	if logger != nil {
		// Checked on the input with the known entities removed, so an
		// ampersand produced by decoding &amp; is not reported.
		leftover := strings.NewReplacer("&gt;", "", "&#039;", "", "&quot;", "", "&lt;", "", "&amp;", "").Replace(input)
		if strings.Contains(leftover, "&") {
			level.Warn(logger).Log("msg", "unrecognized html entity in comment", "text", out)
		}
	}
	return out
}

// tagBBCode maps a formatting tag pair to its BBCode open/close rendering.
var tagBBCode = map[string][2]string{
	"s": {"[spoiler]", "[/spoiler]"},
	"b": {"[b]", "[/b]"},
	"i": {"[i]", "[/i]"},
	"u": {"[u]", "[/u]"},
}

// Clean converts a comment's escaped-HTML body into BBCode-flavored plain
// text: <br> becomes a newline, <s>/<b>/<i>/<u> become their BBCode
// equivalent, quote/dead links (<a>...</a>) and <wbr> are stripped (their
// text content, for quote links, is kept), and anything else passes
// through as literal text. This is a simplified tag-walk rather than a
// full grammar, since post bodies only ever contain this small fixed set
// of tags.
func Clean(input string, logger log.Logger) string {
	if !strings.Contains(input, "<") {
		return Unescape(input, logger)
	}

	var out strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(input))

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return Unescape(out.String(), logger)

		case html.TextToken:
			out.Write(tokenizer.Text())

		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)

			switch tag {
			case "a", "wbr":
				// Dropped: quotelinks/dead-links carry no archived meaning
				// beyond their text content, which is emitted separately as
				// a TextToken by the tokenizer; <wbr> carries none at all.
			case "br":
				out.WriteString("\n")
			default:
				if pair, ok := tagBBCode[tag]; ok {
					if tt == html.EndTagToken {
						out.WriteString(pair[1])
					} else {
						out.WriteString(pair[0])
					}
				} else if logger != nil {
					level.Warn(logger).Log("msg", "unrecognized tag in comment", "tag", tag)
				}
			}
		}
	}
}
