package mem

import "testing"

func freshPhysmem(nframes int) *Physmem_t {
	bm := MkBitmap(make([]uint64, (nframes+63)/64), nframes, true)
	p := &Physmem_t{}
	p.InitFromBitmap(bm, 0)
	return p
}

func TestAllocFreeRoundTrip(t *testing.T) {
	p := freshPhysmem(64)

	f1, ok := p.AllocPage(0, false)
	if !ok {
		t.Fatal("alloc should succeed")
	}
	f2, ok := p.AllocPage(0, false)
	if !ok || f2 == f1 {
		t.Fatalf("second alloc must return a different frame, got %v and %v", f1, f2)
	}

	p.FreePage(f1)
	f3, ok := p.AllocPage(0, false)
	if !ok || f3 != f1 {
		t.Fatalf("freed lowest frame should be reused first, got %v want %v", f3, f1)
	}
}

func TestAllocLowestWins(t *testing.T) {
	p := freshPhysmem(16)
	frames := make([]Pa_t, 4)
	for i := range frames {
		f, ok := p.AllocPage(0, false)
		if !ok {
			t.Fatal("alloc should succeed")
		}
		frames[i] = f
	}
	for i := 1; i < len(frames); i++ {
		if frames[i] <= frames[i-1] {
			t.Fatalf("frames should be allocated in ascending order: %v", frames)
		}
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	p := freshPhysmem(8)
	f, _ := p.AllocPage(0, false)
	p.FreePage(f)
	p.FreePage(f) // must not panic or double-count
	if p.FreeFrames() != 8 {
		t.Fatalf("expected all 8 frames free, got %d", p.FreeFrames())
	}
}

func TestAllocConsecutive(t *testing.T) {
	p := freshPhysmem(32)
	base, ok := p.AllocConsecutive(8)
	if !ok {
		t.Fatal("consecutive alloc should succeed")
	}
	next, ok := p.AllocPage(0, false)
	if !ok {
		t.Fatal("single alloc should succeed")
	}
	wantNext := base + Pa_t(8*PGSIZE)
	if next != wantNext {
		t.Fatalf("next single alloc should land right after the run: got %v want %v", next, wantNext)
	}
}

func TestAllocHintHonored(t *testing.T) {
	p := freshPhysmem(16)
	hint := p.bitToFrame(5)
	f, ok := p.AllocPage(hint, true)
	if !ok || f != hint {
		t.Fatalf("hinted alloc should return the hint frame, got %v ok=%v", f, ok)
	}
	// hint already taken now
	if _, ok := p.AllocPage(hint, true); ok {
		t.Fatal("re-allocating a taken hint must fail")
	}
}

func TestParseMemoryMapToBitmap(t *testing.T) {
	bm := MkBitmap(make([]uint64, 2), 128, true)
	mmap := []MemMapEntry{
		{Base: 0, Size: uint64(64 * PGSIZE), Type: MemAvailable},
		{Base: Pa_t(32 * PGSIZE), Size: uint64(8 * PGSIZE), Type: MemKernel},
	}
	ParseMemoryMapToBitmap(mmap, bm)

	for i := 0; i < 32; i++ {
		if bm.Get(i) {
			t.Fatalf("frame %d should be free", i)
		}
	}
	for i := 32; i < 40; i++ {
		if !bm.Get(i) {
			t.Fatalf("kernel frame %d should be reserved", i)
		}
	}
	for i := 40; i < 64; i++ {
		if bm.Get(i) {
			t.Fatalf("frame %d should be free", i)
		}
	}
	for i := 64; i < 128; i++ {
		if !bm.Get(i) {
			t.Fatalf("unmapped frame %d outside the memory map should stay reserved", i)
		}
	}
}
