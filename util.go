package objgraph

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func rpad(s string, n int, pad rune) string {
	rem := n - len(s)
	if rem <= 0 {
		return s
	}
	return s + strings.Repeat(string(pad), rem)
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

func hexAttr(key string, v uint64) slog.Attr {
	return slog.String(key, fmt.Sprintf("%016x", v))
}

func oidAttr(oid ObjectID) slog.Attr {
	return slog.Uint64("oid", oid)
}
