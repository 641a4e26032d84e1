package fetch

import "testing"

func TestIsRemoteURL(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"https://example.com/talk.mp3", true},
		{"http://youtube.com/watch?v=abc", true},
		{"/data/uploads/talk.mp3", false},
		{"talk.wav", false},
		{"file:///tmp/x.wav", false},
	}

	for _, tt := range tests {
		if got := IsRemoteURL(tt.source); got != tt.want {
			t.Errorf("IsRemoteURL(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestIsYouTubeURL(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", true},
		{"https://m.youtube.com/watch?v=abc", true},
		{"https://music.youtube.com/watch?v=abc", true},
		{"https://vimeo.com/12345", false},
		{"not a url", false},
	}

	for _, tt := range tests {
		if got := IsYouTubeURL(tt.source); got != tt.want {
			t.Errorf("IsYouTubeURL(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Plain Title", "Plain Title"},
		{"a/b\\c:d*e?f\"g<h>i|j", "a_b_c_d_e_f_g_h_i_j"},
		{"   ", "untitled"},
		{"", "untitled"},
	}

	for _, tt := range tests {
		if got := SanitizeTitle(tt.in); got != tt.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := make([]rune, 200)
	for i := range long {
		long[i] = 'x'
	}
	if got := SanitizeTitle(string(long)); len([]rune(got)) != 80 {
		t.Errorf("long title not truncated: %d runes", len([]rune(got)))
	}
}

func TestExtensionFor(t *testing.T) {
	if got := extensionFor(`audio/mp4; codecs="mp4a.40.2"`); got != ".m4a" {
		t.Errorf("mp4 extension = %q", got)
	}
	if got := extensionFor(`audio/webm; codecs="opus"`); got != ".webm" {
		t.Errorf("webm extension = %q", got)
	}
	if got := extensionFor("audio/unknown"); got != ".audio" {
		t.Errorf("fallback extension = %q", got)
	}
}
