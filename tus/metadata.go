package tus

import (
	"bufio"
	"encoding/binary"
	"io"
)

// metadataHeaderSize is the fixed-width binary prefix of a metadata file:
// 8 bytes offset (int64) followed by 8 bytes length (uint64).
const metadataHeaderSize = 16

// Metadata is the decoded contents of an upload's metadata file.
type Metadata struct {
	// Offset is the number of data bytes durably received so far.
	// A negative Offset is the sentinel for a corrupted or unreadable
	// metadata file.
	Offset int64
	// Length is the total expected byte count declared at creation.
	Length uint64
	// Comment is the opaque, client-supplied Upload-Metadata value.
	Comment string
}

// corruptMetadata is returned by readers that cannot make sense of a
// metadata file; Offset=-1 signals "corrupted/missing" to callers.
func corruptMetadata() Metadata {
	return Metadata{Offset: -1, Length: 0, Comment: ""}
}

// writeMetadataHeader writes the fixed 16-byte offset+length header at the
// start of w, followed by a newline, an optional comment line, and a
// trailing newline. w must be positioned at offset 0.
func writeMetadataHeader(w io.Writer, offset int64, length uint64, comment string) error {
	var hdr [metadataHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(offset))
	binary.LittleEndian.PutUint64(hdr[8:16], length)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if comment != "" {
		if _, err := io.WriteString(w, comment); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// writeOffsetField rewrites only the first 8 bytes of the metadata file (the
// offset field) without touching length or comment. w must support seeking
// to byte 0 independently — callers pass an *os.File positioned anywhere.
func writeOffsetField(w io.WriterAt, offset int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(offset))
	_, err := w.WriteAt(buf[:], 0)
	return err
}

// readMetadata decodes a Metadata record from r. Any read failure on the
// fixed header yields corruptMetadata(); a missing comment line is
// tolerated and yields an empty Comment.
func readMetadata(r io.Reader) Metadata {
	var hdr [metadataHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return corruptMetadata()
	}

	md := Metadata{
		Offset: int64(binary.LittleEndian.Uint64(hdr[0:8])),
		Length: binary.LittleEndian.Uint64(hdr[8:16]),
	}

	scanner := bufio.NewScanner(r)
	// The byte right after the header is the newline terminating it.
	if scanner.Scan() {
		// scanner.Text() here is the (empty) remainder of the header line.
		if scanner.Scan() {
			md.Comment = scanner.Text()
		}
	}

	return md
}
