package utils_test

import (
	"testing"
	"time"

	"github.com/kitilash/altegiobot/internal/utils"
)

func TestJobCursorRoundTrip(t *testing.T) {
	runAt := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)

	enc, err := utils.EncodeJobCursor(runAt, 42)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	c, err := utils.DecodeJobCursor(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !c.RunAt.Equal(runAt) || c.ID != 42 {
		t.Fatalf("cursor = %+v", c)
	}
}

func TestDecodeJobCursorRejectsGarbage(t *testing.T) {
	for _, cursor := range []string{"", "!!!", "bm90IGpzb24", "e30"} {
		if _, err := utils.DecodeJobCursor(cursor); err == nil {
			t.Fatalf("%q: expected error", cursor)
		}
	}
}
