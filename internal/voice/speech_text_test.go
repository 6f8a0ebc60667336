package voice

import "testing"

func TestStripMarkdown(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "removes html tags",
			in:   "<p>कापूस <b>लागवड</b></p>",
			want: "कापूस लागवड",
		},
		{
			name: "keeps markdown link label",
			in:   "Read [the advisory](https://example.com/a) first.",
			want: "Read the advisory first.",
		},
		{
			name: "drops emphasis and heading markers",
			in:   "## Tip\n**Sow** after _rain_ ~now~ `today`",
			want: "Tip Sow after rain now today",
		},
		{
			name: "joins paragraphs",
			in:   "first\n\nsecond\nthird\n",
			want: "first second third",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := StripMarkdown(tc.in)
			if got != tc.want {
				t.Fatalf("StripMarkdown(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSpeechTextDropsEmojiAndCollapsesSpaces(t *testing.T) {
	got := speechText("पाऊस 🌧️  येईल\t**लवकर**")
	want := "पाऊस येईल लवकर"
	if got != want {
		t.Fatalf("speechText() = %q, want %q", got, want)
	}
}
