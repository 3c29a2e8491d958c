package domain

// SourceKind discriminates where an inbound message came from.
type SourceKind string

const (
	SourceUser  SourceKind = "user"
	SourceGroup SourceKind = "group"
	SourceRoom  SourceKind = "room"
)

// Shared reports whether the source is a multi-participant chat.
func (k SourceKind) Shared() bool {
	return k == SourceGroup || k == SourceRoom
}

// Source describes the chat an inbound message belongs to.
type Source struct {
	Kind    SourceKind
	UserID  string
	GroupID string
	RoomID  string
}

// InboundMessage is the minimal event shape the relay pipeline consumes.
type InboundMessage struct {
	Source     Source
	Text       string
	ReplyToken string
}

// Completion is the result of a successful generation call. The text may be
// absent when the backend returned no usable content.
type Completion struct {
	text    string
	present bool
}

// TextCompletion returns a Completion carrying text.
func TextCompletion(text string) Completion {
	return Completion{text: text, present: true}
}

// EmptyCompletion returns a Completion with no text.
func EmptyCompletion() Completion {
	return Completion{}
}

// Text returns the generated text and whether it is present.
func (c Completion) Text() (string, bool) {
	return c.text, c.present
}
