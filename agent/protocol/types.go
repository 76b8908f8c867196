package protocol

// Command is a request sent from the client to the server.
// Exactly one of Exec, Stream, Ping, DirectTap, or DirectSwipe.
type Command interface {
	commandTag() uint8
}

// Exec runs a program to completion and returns its stdout.
type Exec struct {
	Program string   `cbor:"program"`
	Args    []string `cbor:"args"`
}

// Stream runs a program and relays its output line by line while it runs.
type Stream struct {
	Program string   `cbor:"program"`
	Args    []string `cbor:"args"`
}

// Ping checks that the server is alive.
type Ping struct{}

// DirectTap synthesizes a tap at the given screen position.
type DirectTap struct {
	X int32 `cbor:"x"`
	Y int32 `cbor:"y"`
}

// DirectSwipe synthesizes a swipe from (X1,Y1) to (X2,Y2) over DurationMS milliseconds.
type DirectSwipe struct {
	X1         int32  `cbor:"x1"`
	Y1         int32  `cbor:"y1"`
	X2         int32  `cbor:"x2"`
	Y2         int32  `cbor:"y2"`
	DurationMS uint64 `cbor:"duration_ms"`
}

const (
	tagExec uint8 = iota + 1
	tagStream
	tagPing
	tagDirectTap
	tagDirectSwipe
)

func (Exec) commandTag() uint8        { return tagExec }
func (Stream) commandTag() uint8      { return tagStream }
func (Ping) commandTag() uint8        { return tagPing }
func (DirectTap) commandTag() uint8   { return tagDirectTap }
func (DirectSwipe) commandTag() uint8 { return tagDirectSwipe }

// ResponseKind discriminates the variants of a Response.
type ResponseKind uint8

const (
	// KindSuccess carries the stdout of a completed command, or is empty for side-effect-only commands.
	KindSuccess ResponseKind = iota + 1
	// KindError carries a human-readable failure description.
	KindError
	// KindStreamChunk carries exactly one line of output from a running child.
	KindStreamChunk
	// KindStreamEnd is the terminal marker of a stream. No more frames follow.
	KindStreamEnd
)

func (k ResponseKind) String() string {
	switch k {
	case KindSuccess:
		return "Success"
	case KindError:
		return "Error"
	case KindStreamChunk:
		return "StreamChunk"
	case KindStreamEnd:
		return "StreamEnd"
	default:
		return "Unknown"
	}
}

// Response is sent from the server to the client, one per frame.
// Text is always empty for KindStreamEnd.
type Response struct {
	Kind ResponseKind
	Text string
}

func Success(text string) Response     { return Response{Kind: KindSuccess, Text: text} }
func Error(text string) Response       { return Response{Kind: KindError, Text: text} }
func StreamChunk(text string) Response { return Response{Kind: KindStreamChunk, Text: text} }
func StreamEnd() Response              { return Response{Kind: KindStreamEnd} }
