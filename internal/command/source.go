package command

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dop251/goja_nodejs/require"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// sourceDecoder converts UTF-8 or BOM-marked UTF-16 to UTF-8, dropping the
// byte order mark.
func sourceDecoder() transform.Transformer {
	return unicode.BOMOverride(unicode.UTF8.NewDecoder())
}

// decodeSource returns src as UTF-8 with a leading #! line commented out.
func decodeSource(src []byte) ([]byte, error) {
	out, _, err := transform.Bytes(sourceDecoder(), src)
	if err != nil {
		return nil, fmt.Errorf("decoding source: %w", err)
	}
	return blankShebang(out), nil
}

// readSource reads a script from r and decodes it like decodeSource.
func readSource(r io.Reader) (string, error) {
	data, err := io.ReadAll(transform.NewReader(r, sourceDecoder()))
	if err != nil {
		return "", fmt.Errorf("decoding source: %w", err)
	}
	return string(blankShebang(data)), nil
}

// blankShebang turns "#!" at the start of src into a line comment, so that
// line numbers are unchanged.
func blankShebang(src []byte) []byte {
	if bytes.HasPrefix(src, []byte("#!")) {
		src[0], src[1] = '/', '/'
	}
	return src
}

// loadSource is the require source loader: require.DefaultSourceLoader
// followed by decodeSource.
func loadSource(path string) ([]byte, error) {
	data, err := require.DefaultSourceLoader(path)
	if err != nil {
		return nil, err
	}
	return decodeSource(data)
}
