package mq

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - mq/book/{origin}
// - mq/page/{origin}/{index_be4}
// - mq/ring/head , mq/ring/size
// - mq/ow/{handle}
// - mq/owix/{origin}/{handle}
// - mq/quar/{origin}/{index_be4}

var (
	sep          = byte('/')
	bookPrefix   = []byte("mq/book/")
	pagePfx      = []byte("mq/page/")
	ringHeadK    = []byte("mq/ring/head")
	ringSizeK    = []byte("mq/ring/size")
	owPfx        = []byte("mq/ow/")
	owIndexPfx   = []byte("mq/owix/")
	quarantinePfx = []byte("mq/quar/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// bookKey builds the ledger key for an origin.
func bookKey(origin string) []byte {
	k := make([]byte, 0, len(bookPrefix)+len(origin))
	k = append(k, bookPrefix...)
	k = append(k, origin...)
	return k
}

// pageKey builds the page key with a big-endian index for proper ordering.
func pageKey(origin string, index uint32) []byte {
	k := make([]byte, 0, len(pagePfx)+len(origin)+8)
	k = append(k, pagePfx...)
	k = append(k, origin...)
	k = append(k, sep)
	k = appendBE4(k, index)
	return k
}

// pagePrefix covers all pages of one origin.
func pagePrefix(origin string) []byte {
	k := make([]byte, 0, len(pagePfx)+len(origin)+1)
	k = append(k, pagePfx...)
	k = append(k, origin...)
	k = append(k, sep)
	return k
}

func ringHeadKey() []byte { return ringHeadK }
func ringSizeKey() []byte { return ringSizeK }

// owKey builds the overweight entry key for a handle.
func owKey(handle string) []byte {
	k := make([]byte, 0, len(owPfx)+len(handle))
	k = append(k, owPfx...)
	k = append(k, handle...)
	return k
}

// owPrefix covers every overweight entry.
func owPrefix() []byte { return owPfx }

// owIndexKey builds the per-origin overweight index key.
func owIndexKey(origin, handle string) []byte {
	k := make([]byte, 0, len(owIndexPfx)+len(origin)+1+len(handle))
	k = append(k, owIndexPfx...)
	k = append(k, origin...)
	k = append(k, sep)
	k = append(k, handle...)
	return k
}

// owIndexPrefix covers one origin's overweight index rows.
func owIndexPrefix(origin string) []byte {
	k := make([]byte, 0, len(owIndexPfx)+len(origin)+1)
	k = append(k, owIndexPfx...)
	k = append(k, origin...)
	k = append(k, sep)
	return k
}

// quarantineKey builds the parking key for a corrupt page.
func quarantineKey(origin string, index uint32) []byte {
	k := make([]byte, 0, len(quarantinePfx)+len(origin)+8)
	k = append(k, quarantinePfx...)
	k = append(k, origin...)
	k = append(k, sep)
	k = appendBE4(k, index)
	return k
}

// validOrigin reports whether origin is usable as a key segment:
// non-empty, at most 64 bytes, restricted to [a-zA-Z0-9._-].
func validOrigin(origin string) bool {
	if origin == "" || len(origin) > 64 {
		return false
	}
	for i := 0; i < len(origin); i++ {
		c := origin[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}
