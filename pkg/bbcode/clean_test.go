package bbcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnescapeKnownEntities(t *testing.T) {
	require.Equal(t, `<tag> & "quote" 'apos'`, Unescape("&lt;tag&gt; &amp; &quot;quote&quot; &#039;apos&#039;", nil))
}

func TestUnescapeLeavesPlainTextAlone(t *testing.T) {
	require.Equal(t, "no entities here", Unescape("no entities here", nil))
}

func TestCleanConvertsFormattingTags(t *testing.T) {
	got := Clean("<b>bold</b> and <i>italic</i> and <s>spoiler</s><br>new line", nil)
	require.Equal(t, "[b]bold[/b] and [i]italic[/i] and [spoiler]spoiler[/spoiler]\nnew line", got)
}

func TestCleanDropsQuoteLinksButKeepsText(t *testing.T) {
	got := Clean(`<a href="#p123" class="quotelink">&gt;&gt;123</a> reply text`, nil)
	require.Equal(t, ">>123 reply text", got)
}

func TestCleanPassesThroughPlainText(t *testing.T) {
	require.Equal(t, "plain text, no tags", Clean("plain text, no tags", nil))
}
