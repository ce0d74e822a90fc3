// Package rmtp implements the data model and application-facing contracts
// of the reliable multicast transfer protocol: products, their wire-level
// sizing constants, and the notifier interfaces a sending or receiving
// application implements to drive a sender.Engine or receiver.Engine.
package rmtp

import (
	"errors"
	"time"
)

// Size constants from the wire format (spec.md §6).
const (
	MaxPacketLen = 1460
	HeaderLen    = 12
	DataLen      = MaxPacketLen - HeaderLen // 1448
	MetaMax      = DataLen - 6              // 1442
)

// ProdIndex identifies a product. It wraps modulo 2^32; comparisons must be
// wrap-aware (spec.md §9) rather than plain `<`.
type ProdIndex uint32

// Precedes reports whether a comes strictly before b in sender emission
// order, using signed 32-bit wraparound arithmetic.
func (a ProdIndex) Precedes(b ProdIndex) bool {
	return int32(b-a) > 0
}

// Between reports whether x lies strictly between lo and hi (exclusive),
// walking forward from lo to hi in wrap-aware order.
func Between(lo, hi, x ProdIndex) bool {
	if lo == hi {
		return false
	}
	return lo.Precedes(x) && x.Precedes(hi)
}

// NumBlocks returns the number of DataLen-sized blocks needed to carry a
// product of the given size, 0 for an empty product.
func NumBlocks(prodsize uint32) uint32 {
	if prodsize == 0 {
		return 0
	}
	return (prodsize + DataLen - 1) / DataLen
}

// BlockIndex returns the block index of a byte offset within a product.
func BlockIndex(seqnum uint32) uint32 {
	return seqnum / DataLen
}

// AlignDown rounds seqnum down to the nearest block boundary.
func AlignDown(seqnum uint32) uint32 {
	return (seqnum / DataLen) * DataLen
}

// Product is the unit of delivery: an opaque byte payload plus small
// application metadata, identified by a sender-assigned ProdIndex.
type Product struct {
	Index    ProdIndex
	Size     uint32
	Metadata []byte
	Payload  []byte
}

// Sentinel errors, per spec.md §7's error taxonomy.
var (
	// ErrTooShort is returned by wire decoding when a datagram is smaller
	// than HeaderLen, or a data packet's declared payloadlen doesn't match
	// the bytes actually present.
	ErrTooShort = errors.New("rmtp: packet shorter than declared")

	// ErrMetadataTooLarge rejects send_product calls whose metadata exceeds
	// MetaMax bytes (application misuse, rejected synchronously).
	ErrMetadataTooLarge = errors.New("rmtp: metadata exceeds MetaMax")

	// ErrNilPayload names the misuse of a nil payload with a non-zero size.
	// sender.Engine.SendProduct never returns it: its payload is a single
	// slice, so a nil payload always has size 0.
	ErrNilPayload = errors.New("rmtp: nil payload with non-zero size")

	// ErrStopped is returned by operations attempted after Stop has been
	// called on the owning engine.
	ErrStopped = errors.New("rmtp: engine stopped")

	// ErrUnknownFlag marks a packet whose flags field matched none of the
	// one-hot flag codes; such packets are silently dropped by transports,
	// never surfaced as errors to the application.
	ErrUnknownFlag = errors.New("rmtp: unknown flag")
)

// SendNotifier is the sending application's notification interface
// (spec.md §6). OnEOP is invoked at most once per product, either when
// every connected receiver acknowledges or when the retention deadline
// expires.
type SendNotifier interface {
	OnEOP(index ProdIndex)
}

// RecvNotifier is the receiving application's notification interface.
// OnBOP returns the destination buffer to reconstruct the product into, or
// nil to discard the product's bytes while still tracking completion.
type RecvNotifier interface {
	OnBOP(prodsize uint32, metadata []byte) (dst []byte)
	OnEOP()
	OnMissedProd(index ProdIndex)
}

// Config carries the deployment-level parameters named in spec.md §6.
// None of these are protocol state; all are fixed for the engine's
// lifetime once Start is called.
type Config struct {
	TCPAddr   string
	TCPPort   int // 0 => OS-chosen
	McastAddr string
	McastPort int

	MulticastTTL int    // default 1
	IfaceAddr    string // default "0.0.0.0"

	InitialProdIndex ProdIndex

	RetentionTimeout   time.Duration
	EOPWatchdogTimeout time.Duration

	// RateBPS is the configured sender rate in bits/second; 0 disables
	// rate shaping entirely (spec.md §4.7).
	RateBPS uint64
}

// DefaultConfig returns deployment defaults consistent with spec.md §6.
func DefaultConfig() Config {
	return Config{
		MulticastTTL:       1,
		IfaceAddr:          "0.0.0.0",
		RetentionTimeout:   120 * time.Second,
		EOPWatchdogTimeout: 500 * time.Millisecond,
	}
}
