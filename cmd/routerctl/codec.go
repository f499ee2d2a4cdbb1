package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
)

// Chunk sizes for the streaming codecs: 12 input bytes per Base64 line,
// 40 per Base32 line, both chosen so each chunk encodes without padding.
const (
	base64ChunkSize = 12
	base32ChunkSize = 40
)

func newBase64Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "base64 encode|decode <in> <out>",
		Short: "Stream Base64 encode or decode a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodec(args, base64ChunkSize, crypto.Base64Encode, crypto.Base64Decode)
		},
	}
	return cmd
}

func newBase32Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "base32 encode|decode <in> <out>",
		Short: "Stream Base32 encode or decode a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodec(args, base32ChunkSize, crypto.Base32Encode, crypto.Base32Decode)
		},
	}
	return cmd
}

func runCodec(args []string, chunkSize int, encode func([]byte) string, decode func(string) ([]byte, error)) error {
	mode, inPath, outPath := args[0], args[1], args[2]
	in, err := openIn(inPath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := openOut(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	switch mode {
	case "encode":
		return encodeStream(in, out, chunkSize, encode)
	case "decode":
		return decodeStream(in, out, decode)
	default:
		return fmt.Errorf("unknown mode %q: want encode or decode", mode)
	}
}

func openIn(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func openOut(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// encodeStream reads fixed-size chunks and writes one encoded line per
// chunk; only the final chunk may be short.
func encodeStream(in io.Reader, out io.Writer, chunkSize int, encode func([]byte) string) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(in, buf)
		if n > 0 {
			if _, werr := fmt.Fprintln(out, encode(buf[:n])); werr != nil {
				return werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// decodeStream reads the whole input, then decodes it one line at a time
// and writes the raw bytes; any malformed line aborts with a non-zero
// exit.
func decodeStream(in io.Reader, out io.Writer, decode func(string) ([]byte, error)) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	start := 0
	for i := 0; i <= len(data); i++ {
		if i < len(data) && data[i] != '\n' {
			continue
		}
		line := string(data[start:i])
		start = i + 1
		if line == "" {
			continue
		}
		raw, err := decode(line)
		if err != nil {
			return fmt.Errorf("malformed input line: %w", err)
		}
		if _, err := out.Write(raw); err != nil {
			return err
		}
	}
	return nil
}
