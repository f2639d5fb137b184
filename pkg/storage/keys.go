package storage

import (
	"bytes"
	"strings"
)

const (
	assetKeyPrefix = "asset:"
	claimKeyPrefix = "claim:"
	scopeSep       = "\x00"
)

func assetKey(scope, sourceURL string) []byte {
	return []byte(assetKeyPrefix + scope + scopeSep + sourceURL)
}

func claimKey(scope, relPath string) []byte {
	return []byte(claimKeyPrefix + scope + scopeSep + relPath)
}

// splitAssetKey returns the scope and URL encoded in an asset key
func splitAssetKey(key []byte) (scope, sourceURL string, ok bool) {
	if !bytes.HasPrefix(key, []byte(assetKeyPrefix)) {
		return "", "", false
	}
	scope, sourceURL, ok = strings.Cut(string(key[len(assetKeyPrefix):]), scopeSep)
	return scope, sourceURL, ok
}
