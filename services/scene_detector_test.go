package services

import (
	"math"
	"testing"
)

const showinfoSample = `[Parsed_showinfo_1 @ 0x5578] n:   0 pts:      0 pts_time:0       duration_time:0.04 fmt:yuv420p
[Parsed_showinfo_1 @ 0x5578] color_range:tv color_spaces:bt709
[Parsed_showinfo_1 @ 0x5578] n:   1 pts:  96096 pts_time:3.2032  duration_time:0.04 fmt:yuv420p
[Parsed_showinfo_1 @ 0x5578] n:   2 pts: 240240 pts_time:8.008   duration_time:0.04 fmt:yuv420p
frame=    3 fps=0.0 q=2.0 Lsize=N/A time=00:00:12.00 bitrate=N/A speed=24x
`

func TestParseShowinfo(t *testing.T) {
	triples := parseShowinfo(showinfoSample, "/tmp/frames/frame_%04d.jpg")

	if len(triples) != 3 {
		t.Fatalf("Expected 3 triples, got %d", len(triples))
	}

	wantTimes := []float64{0, 3.2032, 8.008}
	wantPaths := []string{
		"/tmp/frames/frame_0001.jpg",
		"/tmp/frames/frame_0002.jpg",
		"/tmp/frames/frame_0003.jpg",
	}
	for i, tr := range triples {
		if tr.Index != i {
			t.Errorf("Triple %d: expected index %d, got %d", i, i, tr.Index)
		}
		if math.Abs(tr.Timestamp-wantTimes[i]) > 1e-9 {
			t.Errorf("Triple %d: expected timestamp %v, got %v", i, wantTimes[i], tr.Timestamp)
		}
		if tr.ImagePath != wantPaths[i] {
			t.Errorf("Triple %d: expected path %s, got %s", i, wantPaths[i], tr.ImagePath)
		}
	}
}

func TestParseShowinfoIgnoresNoise(t *testing.T) {
	output := `frame=  120 fps= 30 q=2.0 size=N/A time=00:00:04.00
[Parsed_showinfo_1 @ 0x1] color_range:tv
`
	if got := parseShowinfo(output, "frame_%04d.jpg"); len(got) != 0 {
		t.Errorf("Expected no triples from noise, got %d", len(got))
	}
}

func TestBuildSceneFrames(t *testing.T) {
	triples := []frameTriple{
		{Index: 0, Timestamp: 0, ImagePath: "frame_0001.jpg"},
		{Index: 1, Timestamp: 4.0, ImagePath: "frame_0002.jpg"},
		{Index: 2, Timestamp: 10.0, ImagePath: "frame_0003.jpg"},
	}
	gap := 0.04
	frames := buildSceneFrames(triples, 14.0, gap)

	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}

	// Interior frames end one gap before the next start.
	if math.Abs(frames[0].EndTime-(4.0-gap)) > 1e-9 {
		t.Errorf("Frame 0: expected end %v, got %v", 4.0-gap, frames[0].EndTime)
	}
	if math.Abs(frames[1].EndTime-(10.0-gap)) > 1e-9 {
		t.Errorf("Frame 1: expected end %v, got %v", 10.0-gap, frames[1].EndTime)
	}

	// Last frame extends by the average interval (5s) minus gap.
	wantLast := 10.0 + 5.0 - gap
	if math.Abs(frames[2].EndTime-wantLast) > 1e-9 {
		t.Errorf("Frame 2: expected end %v, got %v", wantLast, frames[2].EndTime)
	}

	// Ordering and non-overlap invariants.
	for i, f := range frames {
		if f.EndTime <= f.StartTime {
			t.Errorf("Frame %d: end %v not after start %v", i, f.EndTime, f.StartTime)
		}
		if i > 0 && f.StartTime <= frames[i-1].StartTime {
			t.Errorf("Frame %d starts before frame %d", i, i-1)
		}
		if i > 0 && frames[i-1].EndTime > f.StartTime {
			t.Errorf("Frame %d overlaps frame %d", i-1, i)
		}
	}
}

func TestBuildSceneFramesLastClampedToDuration(t *testing.T) {
	triples := []frameTriple{
		{Index: 0, Timestamp: 0},
		{Index: 1, Timestamp: 9.0},
	}
	frames := buildSceneFrames(triples, 10.0, 0.04)

	last := frames[len(frames)-1]
	if last.EndTime > 10.0 {
		t.Errorf("Last frame end %v exceeds source duration", last.EndTime)
	}
	if last.EndTime <= last.StartTime {
		t.Errorf("Last frame has degenerate span %v..%v", last.StartTime, last.EndTime)
	}
}

func TestBuildSceneFramesSingleBoundary(t *testing.T) {
	triples := []frameTriple{{Index: 0, Timestamp: 1.5}}
	frames := buildSceneFrames(triples, 20.0, 0.04)

	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	// With one boundary the remaining run is the interval.
	want := 1.5 + (20.0 - 1.5) - 0.04
	if math.Abs(frames[0].EndTime-want) > 1e-9 {
		t.Errorf("Expected end %v, got %v", want, frames[0].EndTime)
	}
}

func TestBuildSceneFramesNearDuplicateBoundary(t *testing.T) {
	gap := 0.04
	tests := []struct {
		name    string
		triples []frameTriple
	}{
		{
			name: "boundaries closer than the gap",
			triples: []frameTriple{
				{Index: 0, Timestamp: 5.0},
				{Index: 1, Timestamp: 5.01},
				{Index: 2, Timestamp: 9.0},
			},
		},
		{
			// Frame 0 is always emitted; a cut on the very next frame at
			// 30fps lands 0.033s later, inside the gap.
			name: "cut immediately after first frame",
			triples: []frameTriple{
				{Index: 0, Timestamp: 0},
				{Index: 1, Timestamp: 0.033},
				{Index: 2, Timestamp: 5.0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := buildSceneFrames(tt.triples, 10.0, gap)

			for i, f := range frames {
				if f.EndTime <= f.StartTime {
					t.Errorf("Frame %d: degenerate span %v..%v", i, f.StartTime, f.EndTime)
				}
				if i > 0 && frames[i-1].EndTime > f.StartTime {
					t.Errorf("Frame %d end %v overlaps frame %d start %v",
						i-1, frames[i-1].EndTime, i, f.StartTime)
				}
			}
		})
	}
}
