package stream

// ChunkKind discriminates the payload of an UpstreamChunk.
type ChunkKind int

const (
	// ChunkText is an assistant text fragment for choice Index.
	ChunkText ChunkKind = iota
	// ChunkToolCall is a fragment of tool call Index within choice Choice.
	// CallID and Name are set on the fragments that carry them; Arguments
	// is appended verbatim.
	ChunkToolCall
	// ChunkFinish closes every item of choice Index.
	ChunkFinish
	// ChunkUsage reports token usage for the whole response.
	ChunkUsage
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkText:
		return "text"
	case ChunkToolCall:
		return "tool_call"
	case ChunkFinish:
		return "finish"
	case ChunkUsage:
		return "usage"
	}
	return "unknown"
}

// Chunk is one decoded unit of an upstream chat stream.
type Chunk struct {
	Kind         ChunkKind
	Index        int
	Choice       int
	Text         string
	CallID       string
	Name         string
	Arguments    string
	FinishReason string
	Usage        *Usage
}
