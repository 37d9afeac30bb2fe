/*
Copyright © 2022 - 2024 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package image handles the raw disk image (spec.md §4.5): transparent
// gzip decompression while streaming to the flash device, a blake2b
// digest of the decompressed bytes, and the byte-for-byte prefix verify
// pass that confirms the flash landed correctly without re-reading the
// whole device.
package image

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/suse-edge/takeover/pkg/constants"
	"github.com/suse-edge/takeover/pkg/migerr"
	"github.com/suse-edge/takeover/pkg/types"
)

// Source is a readable image, gzip-compressed or not.
type Source struct {
	// Path is the local path of the already-downloaded image file
	// (spec.md §4.3 stages images to the staging root before flashing).
	Path string
	// Gzip indicates the file at Path is gzip-compressed; detected from
	// the magic number by Open, not trusted from a file extension.
	Gzip bool
}

// Open inspects path's first two bytes to decide whether it is
// gzip-compressed, per spec.md §4.5 "detected from content, not file
// extension".
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, migerr.Wrap(migerr.NotFound, err, "opening image file")
	}
	defer f.Close()

	magic := make([]byte, 2)
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, migerr.Wrap(migerr.IO, err, "reading image magic number")
	}
	gz := n == 2 && magic[0] == 0x1f && magic[1] == 0x8b

	return &Source{Path: path, Gzip: gz}, nil
}

// reader opens a fresh decompressing (or raw) reader over the source.
func (s *Source) reader() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, migerr.Wrap(migerr.NotFound, err, "opening image file")
	}
	if !s.Gzip {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, migerr.Wrap(migerr.IO, err, "initializing gzip reader")
	}
	return &gzipReadCloser{gz: gz, f: f}, nil
}

type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g *gzipReadCloser) Close() error {
	gzErr := g.gz.Close()
	fErr := g.f.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

// FlashResult reports what Flash actually wrote.
type FlashResult struct {
	BytesWritten uint64
	Digest       [blake2b.Size256]byte
	PrefixBuf    []byte // first constants.DefaultVerifyPrefixBytes of decompressed data, retained for Verify
}

// Flash streams the decompressed image onto dev in constants.FlashBlockSize
// chunks, computing a running blake2b digest and retaining the first
// prefix bytes for the subsequent byte-for-byte Verify pass (spec.md §4.5:
// "flash must stream-decompress... and verify the write by re-reading a
// configurable prefix of the device and comparing it byte-for-byte against
// the decompressed source, rather than re-reading the entire device").
func Flash(logger types.Logger, s *Source, dev string, prefixBytes int) (*FlashResult, error) {
	src, err := s.reader()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	out, err := os.OpenFile(dev, os.O_WRONLY, 0)
	if err != nil {
		return nil, migerr.Wrap(migerr.IO, err, "opening flash target device")
	}
	defer out.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, migerr.Wrap(migerr.InvalidState, err, "initializing blake2b hash")
	}

	var prefixBuf bytes.Buffer
	buf := make([]byte, constants.FlashBlockSize)
	var total uint64

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := out.Write(chunk); werr != nil {
				return nil, migerr.Wrap(migerr.IO, werr, "writing to flash device")
			}
			h.Write(chunk)
			if prefixBuf.Len() < prefixBytes {
				remain := prefixBytes - prefixBuf.Len()
				if remain > len(chunk) {
					remain = len(chunk)
				}
				prefixBuf.Write(chunk[:remain])
			}
			total += uint64(n)
			logger.Debugf("flashed %d bytes (%d total)", n, total)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, migerr.Wrap(migerr.IO, rerr, "reading image source")
		}
	}

	if err := out.Sync(); err != nil {
		return nil, migerr.Wrap(migerr.IO, err, "fsync after flash")
	}

	var digest [blake2b.Size256]byte
	copy(digest[:], h.Sum(nil))

	logger.Infof("flashed %d bytes to %s, digest %x", total, dev, digest)

	return &FlashResult{
		BytesWritten: total,
		Digest:       digest,
		PrefixBuf:    prefixBuf.Bytes(),
	}, nil
}

// Verify re-reads len(result.PrefixBuf) bytes from dev and compares them
// byte-for-byte against what was written, per spec.md §4.5.
func Verify(dev string, result *FlashResult) error {
	f, err := os.Open(dev)
	if err != nil {
		return migerr.Wrap(migerr.IO, err, "opening flash device for verify")
	}
	defer f.Close()

	actual := make([]byte, len(result.PrefixBuf))
	if _, err := io.ReadFull(f, actual); err != nil {
		return migerr.Wrap(migerr.IO, err, "reading verify prefix from flash device")
	}

	if !bytes.Equal(actual, result.PrefixBuf) {
		return migerr.New(migerr.InvalidState,
			"flash verification failed: first %d bytes of %s do not match the decompressed source",
			len(result.PrefixBuf), dev)
	}
	return nil
}
