package models

type ResourceType string

const (
	ResourceVideo   ResourceType = "video"
	ResourceCourse  ResourceType = "course"
	ResourceArticle ResourceType = "article"
)

type Slide struct {
	Title        string   `json:"title"`
	Content      []string `json:"content"`
	SpeakerNotes string   `json:"speakerNotes"`
}

type Resource struct {
	Title string       `json:"title"`
	URL   string       `json:"url"`
	Type  ResourceType `json:"type"`
}

type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GroundingChunk is a search citation attached to quiz and resource generation.
type GroundingChunk struct {
	Web *WebSource `json:"web,omitempty"`
}

// LecturePackage is the composite lecture result. AudioData holds raw
// PCM16 mono 24 kHz samples and is base64 encoded on the wire.
type LecturePackage struct {
	Slides          []Slide          `json:"slides"`
	Script          string           `json:"script"`
	Quiz            []QuizQuestion   `json:"quiz"`
	Resources       []Resource       `json:"resources"`
	AudioData       []byte           `json:"audioData"`
	GroundingChunks []GroundingChunk `json:"groundingChunks,omitempty"`
	Assignment      *Assignment      `json:"assignment,omitempty"`
}

func NewLecturePackage() LecturePackage {
	return LecturePackage{
		Slides:    []Slide{},
		Quiz:      []QuizQuestion{},
		Resources: []Resource{},
	}
}

// Clone returns a deep copy so snapshots never share backing arrays.
func (p LecturePackage) Clone() LecturePackage {
	out := LecturePackage{
		Script:    p.Script,
		Slides:    make([]Slide, len(p.Slides)),
		Quiz:      make([]QuizQuestion, len(p.Quiz)),
		Resources: append([]Resource{}, p.Resources...),
	}
	for i, s := range p.Slides {
		s.Content = cloneStrings(s.Content)
		out.Slides[i] = s
	}
	for i, q := range p.Quiz {
		q.Options = cloneStrings(q.Options)
		out.Quiz[i] = q
	}
	if p.AudioData != nil {
		out.AudioData = append([]byte{}, p.AudioData...)
	}
	if p.GroundingChunks != nil {
		out.GroundingChunks = make([]GroundingChunk, len(p.GroundingChunks))
		for i, c := range p.GroundingChunks {
			if c.Web != nil {
				web := *c.Web
				c.Web = &web
			}
			out.GroundingChunks[i] = c
		}
	}
	if p.Assignment != nil {
		a := p.Assignment.Clone()
		out.Assignment = &a
	}
	return out
}

// WithoutAudio drops the audio payload for lightweight broadcasts.
func (p LecturePackage) WithoutAudio() LecturePackage {
	p.AudioData = nil
	return p
}

func (p LecturePackage) HasAudio() bool { return len(p.AudioData) > 0 }

// EnsureDefaults replaces missing arrays with empty ones.
func (p *LecturePackage) EnsureDefaults() {
	if p.Slides == nil {
		p.Slides = []Slide{}
	}
	if p.Quiz == nil {
		p.Quiz = []QuizQuestion{}
	}
	if p.Resources == nil {
		p.Resources = []Resource{}
	}
	for i := range p.Slides {
		if p.Slides[i].Content == nil {
			p.Slides[i].Content = []string{}
		}
	}
	if p.Assignment != nil {
		p.Assignment.EnsureDefaults()
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}
