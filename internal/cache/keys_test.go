package cache

import (
	"errors"
	"testing"
)

func TestExtractKey_LocatorShapes(t *testing.T) {
	tests := []struct {
		name    string
		locator string
		want    string
		wantErr bool
	}{
		{
			name:    "standard watch URL",
			locator: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			want:    "dQw4w9WgXcQ",
		},
		{
			name:    "watch URL with playlist params",
			locator: "https://www.youtube.com/watch?list=PLx0sYbCqOb8Q&v=dQw4w9WgXcQ&index=2",
			want:    "dQw4w9WgXcQ",
		},
		{
			name:    "short link",
			locator: "https://youtu.be/dQw4w9WgXcQ",
			want:    "dQw4w9WgXcQ",
		},
		{
			name:    "short link with tracking params",
			locator: "https://youtu.be/dQw4w9WgXcQ?si=AAAAAAAAAAAAAAAA",
			want:    "dQw4w9WgXcQ",
		},
		{
			name:    "embed URL",
			locator: "https://www.youtube.com/embed/dQw4w9WgXcQ",
			want:    "dQw4w9WgXcQ",
		},
		{
			name:    "shorts URL",
			locator: "https://youtube.com/shorts/abc-DEF_123",
			want:    "abc-DEF_123",
		},
		{
			name:    "live URL",
			locator: "https://www.youtube.com/live/abc-DEF_123",
			want:    "abc-DEF_123",
		},
		{
			name:    "music host",
			locator: "https://music.youtube.com/watch?v=dQw4w9WgXcQ",
			want:    "dQw4w9WgXcQ",
		},
		{
			name:    "no protocol",
			locator: "youtube.com/watch?v=dQw4w9WgXcQ",
			want:    "dQw4w9WgXcQ",
		},
		{
			name:    "bare video id",
			locator: "dQw4w9WgXcQ",
			want:    "dQw4w9WgXcQ",
		},
		{
			name:    "surrounding whitespace",
			locator: "  https://youtu.be/dQw4w9WgXcQ  ",
			want:    "dQw4w9WgXcQ",
		},
		{
			name:    "plain search text",
			locator: "never gonna give you up",
			wantErr: true,
		},
		{
			name:    "unrelated URL",
			locator: "https://example.com/watch?v=dQw4w9WgXcQ",
			wantErr: true,
		},
		{
			name:    "id too short",
			locator: "https://youtu.be/short",
			wantErr: true,
		},
		{
			name:    "empty",
			locator: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractKey(tt.locator)
			if tt.wantErr {
				if !errors.Is(err, ErrKeyExtraction) {
					t.Fatalf("ExtractKey(%q) error = %v, want ErrKeyExtraction", tt.locator, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractKey(%q) unexpected error: %v", tt.locator, err)
			}
			if got != tt.want {
				t.Errorf("ExtractKey(%q) = %q, want %q", tt.locator, got, tt.want)
			}
		})
	}
}

func TestExtractKey_EquivalentFormsCollapse(t *testing.T) {
	forms := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ",
		"dQw4w9WgXcQ",
	}
	for _, form := range forms {
		key, err := ExtractKey(form)
		if err != nil {
			t.Fatalf("ExtractKey(%q) unexpected error: %v", form, err)
		}
		if key != "dQw4w9WgXcQ" {
			t.Errorf("ExtractKey(%q) = %q, want dQw4w9WgXcQ", form, key)
		}
	}
}

func TestEphemeralKey_NeverCollides(t *testing.T) {
	a := EphemeralKey()
	b := EphemeralKey()
	if a == b {
		t.Fatalf("two ephemeral keys collided: %q", a)
	}
	if !IsEphemeral(a) || !IsEphemeral(b) {
		t.Errorf("ephemeral keys not recognized: %q %q", a, b)
	}
	if IsEphemeral("dQw4w9WgXcQ") {
		t.Error("canonical key misclassified as ephemeral")
	}
}
