package core

import "testing"

func TestEstimateTarSize(t *testing.T) {
	t.Run("empty set is just the trailer", func(t *testing.T) {
		if got := estimateTarSize(nil); got != tarTrailerSize {
			t.Errorf("size = %d, want %d", got, tarTrailerSize)
		}
	})

	t.Run("single small file", func(t *testing.T) {
		entries := []SourceEntry{{RelPath: "a.txt", Size: 100}}
		// header + content padded to 512 + trailer
		want := int64(512 + 512 + 1024)
		if got := estimateTarSize(entries); got != want {
			t.Errorf("size = %d, want %d", got, want)
		}
	})

	t.Run("block-aligned file gets no padding", func(t *testing.T) {
		entries := []SourceEntry{{RelPath: "a.bin", Size: 1024}}
		want := int64(512 + 1024 + 1024)
		if got := estimateTarSize(entries); got != want {
			t.Errorf("size = %d, want %d", got, want)
		}
	})

	t.Run("directories cost one header block", func(t *testing.T) {
		entries := []SourceEntry{
			{RelPath: "docs", IsDir: true},
			{RelPath: "docs/a.txt", Size: 700},
		}
		want := int64(512 + 512 + 1024 + 1024)
		if got := estimateTarSize(entries); got != want {
			t.Errorf("size = %d, want %d", got, want)
		}
	})
}

func TestEstimateWriteSize(t *testing.T) {
	entries := []SourceEntry{
		{RelPath: "dir", IsDir: true},
		{RelPath: "dir/a", Size: 1_000_000},
		{RelPath: "dir/b", Size: 500_000},
	}
	// Content sum with the 2% headroom factor; directories contribute nothing.
	want := int64(float64(1_500_000) * capacityOverhead)
	if got := estimateWriteSize(entries); got != want {
		t.Errorf("size = %d, want %d", got, want)
	}
}

func TestPadToBlock(t *testing.T) {
	cases := []struct{ size, want int64 }{
		{0, 0},
		{1, 511},
		{511, 1},
		{512, 0},
		{513, 511},
	}
	for _, c := range cases {
		if got := padToBlock(c.size); got != c.want {
			t.Errorf("padToBlock(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}
