package sha256

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{in: "hello world", want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, Sum([]byte(tc.in)))
	}
}

func TestReaderDigestsWhatIsRead(t *testing.T) {
	t.Parallel()

	t.Run("drained", func(t *testing.T) {
		t.Parallel()
		r := NewReader(strings.NewReader("hello world"))
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, "hello world", string(data))
		require.Equal(t, int64(11), r.Size())
		require.Equal(t, Sum(data), r.Sum())
	})

	t.Run("partial", func(t *testing.T) {
		t.Parallel()
		r := NewReader(strings.NewReader("hello world"))
		buf := make([]byte, 5)
		_, err := io.ReadFull(r, buf)
		require.NoError(t, err)
		require.Equal(t, int64(5), r.Size())
		require.Equal(t, Sum([]byte("hello")), r.Sum())
	})
}
