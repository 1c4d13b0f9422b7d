package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"crm-insight-service/internal/service/capture"
)

func chunk(seq int, data string) capture.Chunk {
	return capture.Chunk{Seq: seq, Data: []byte(data)}
}

func TestAssemble_ConcatenatesInSequenceOrder(t *testing.T) {
	a := NewAssembler(1)
	chunks := []capture.Chunk{chunk(2, "C"), chunk(0, "A"), chunk(1, "B")}

	rec, err := a.Assemble(chunks, "audio/webm")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if string(rec.Data) != "ABC" {
		t.Errorf("expected ABC, got %q", rec.Data)
	}
	if rec.SizeBytes != 3 || rec.ChunkCount != 3 {
		t.Errorf("unexpected size/count %d/%d", rec.SizeBytes, rec.ChunkCount)
	}
	if rec.MIMEType != "audio/webm" {
		t.Errorf("unexpected mime %s", rec.MIMEType)
	}
	// Input order is untouched.
	if chunks[0].Seq != 2 {
		t.Error("expected input slice to be left unsorted")
	}
}

func TestAssemble_SizeIsSumOfChunks(t *testing.T) {
	a := NewAssembler(0)
	var chunks []capture.Chunk
	var want []byte
	for i := 0; i < 5; i++ {
		data := bytes.Repeat([]byte{byte(i)}, 600)
		chunks = append(chunks, capture.Chunk{Seq: i, Data: data})
		want = append(want, data...)
	}

	rec, err := a.Assemble(chunks, "audio/webm")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !bytes.Equal(rec.Data, want) {
		t.Error("expected concatenation in order")
	}
	if rec.SizeBytes != 3000 {
		t.Errorf("expected 3000 bytes, got %d", rec.SizeBytes)
	}
	if rec.TooShort || !rec.Eligible() {
		t.Error("expected recording eligible")
	}
}

func TestAssemble_Empty(t *testing.T) {
	a := NewAssembler(0)
	tests := []struct {
		name   string
		chunks []capture.Chunk
	}{
		{"nil", nil},
		{"no bytes", []capture.Chunk{chunk(0, ""), chunk(1, "")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Assemble(tt.chunks, "audio/webm"); !errors.Is(err, ErrEmptyInput) {
				t.Errorf("expected ErrEmptyInput, got %v", err)
			}
		})
	}
}

func TestAssemble_TooShortIsFlagged(t *testing.T) {
	a := NewAssembler(0)
	rec, err := a.Assemble([]capture.Chunk{chunk(0, "tiny")}, "audio/webm")
	if err != nil {
		t.Fatalf("expected flagged recording, got error %v", err)
	}
	if !rec.TooShort {
		t.Error("expected TooShort")
	}
	if rec.Eligible() {
		t.Error("expected too-short recording to be ineligible")
	}
}

func TestRecording_Release(t *testing.T) {
	rec := &Recording{Data: []byte("abc"), SizeBytes: 3}
	rec.Release()
	if rec.Data != nil {
		t.Error("expected data released")
	}
	if rec.Eligible() {
		t.Error("released recording must not be eligible")
	}
	var nilRec *Recording
	nilRec.Release()
}

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	wav, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("invalid RIFF markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != uint32(len(pcm)) {
		t.Errorf("expected data size %d, got %d", len(pcm), size)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("expected samples copied after header")
	}
}

func TestEncodeWAV_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		pcm      []byte
		rate     int
		channels int
	}{
		{"empty", nil, 16000, 1},
		{"zero rate", []byte{0, 0}, 0, 1},
		{"odd length", []byte{0, 0, 0}, 16000, 1},
		{"partial stereo frame", []byte{0, 0}, 16000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.pcm, tt.rate, tt.channels); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWrapPCM(t *testing.T) {
	rec := &Recording{Data: []byte{0, 0, 1, 0}, MIMEType: "audio/L16;rate=16000", SizeBytes: 4}
	out, err := WrapPCM(rec, 16000, 1)
	if err != nil {
		t.Fatalf("WrapPCM: %v", err)
	}
	if out.MIMEType != "audio/wav" || out.SizeBytes != 48 {
		t.Errorf("unexpected wrapped recording %s/%d", out.MIMEType, out.SizeBytes)
	}
	if rec.MIMEType != "audio/L16;rate=16000" {
		t.Error("expected original recording untouched")
	}

	webm := &Recording{Data: []byte("x"), MIMEType: "audio/webm"}
	same, err := WrapPCM(webm, 16000, 1)
	if err != nil || same != webm {
		t.Errorf("expected non-PCM recording returned as is, got %v %v", same, err)
	}
}
