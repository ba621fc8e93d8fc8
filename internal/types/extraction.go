package types

// Image classification labels produced by the vision router.
const (
	LabelTextHeavy = "text_heavy"
	LabelTable     = "table"
	LabelDiagram   = "diagram"
	LabelChart     = "chart"
	LabelPhoto     = "photo"
)

// Classification is the vision router's routing decision. Ephemeral: it is
// only persisted indirectly, embedded in a caption chunk when no further
// extraction runs.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// VisionHints are the coarse signals the heuristic router decides on.
type VisionHints struct {
	// TextRatio is the proportion (0..1) of the image area covered by text.
	TextRatio float64 `json:"text_ratio"`
	// GridLike reports whether table-like row/column structure was detected.
	GridLike bool `json:"grid_like"`
}

// DocumentParseResult is the normalized document-backend output.
type DocumentParseResult struct {
	Pages  []DocumentPage  `json:"pages"`
	Tables []DocumentTable `json:"tables,omitempty"`
}

type DocumentPage struct {
	Text string `json:"text"`
}

type DocumentTable struct {
	Markdown string `json:"markdown"`
}

// ImageParseResult is the normalized image-backend output.
type ImageParseResult struct {
	Text   string          `json:"text"`
	Tables []DocumentTable `json:"tables,omitempty"`
}

// TranscriptResult is the normalized speech-backend output.
type TranscriptResult struct {
	Segments []TranscriptSegment `json:"segments"`
}

type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
