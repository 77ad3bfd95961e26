package origin

import "fmt"

// Kind classifies a content source. It controls scan ordering: low-priority
// kinds (SDKs) are always scanned after user content.
type Kind int

const (
	KindContent Kind = iota
	KindLibrary
	KindSDK
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindLibrary:
		return "library"
	case KindSDK:
		return "sdk"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// LowPriority reports whether providers from this kind of origin should run
// after all ordinary providers.
func (k Kind) LowPriority() bool {
	return k == KindSDK
}

// Origin is the immutable identity of one content source (a content root, a
// library, an SDK). Origins are comparable and serve as the deduplication key
// when merging scan tasks.
type Origin struct {
	Kind Kind
	Name string
}

func (o Origin) String() string {
	return o.Kind.String() + " " + o.Name
}
