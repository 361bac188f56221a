package registry

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestReadSidecarPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFile), `{"architectures":["LlamaForCausalLM"],"vocab_size":32000,"eos_token_id":2}`)
	writeFile(t, filepath.Join(dir, GenerationConfigFile), `{"eos_token":"</s>"}`)
	writeFile(t, filepath.Join(dir, TokenizerConfigFile), `{"eos_token":{"content":"<|eot|>"},"bos_token":{"content":"<s>"},"unk_token":"<unk>"}`)
	sc, err := ReadSidecar(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if sc.Architecture != "LlamaForCausalLM" || sc.VocabSize != 32000 {
		t.Fatalf("config fields: %+v", sc)
	}
	if sc.EOS != "</s>" {
		t.Fatalf("generation_config should win over tokenizer_config, got %q", sc.EOS)
	}
	if sc.BOS != "<s>" || sc.UNK != "<unk>" {
		t.Fatalf("tokenizer_config fields: %+v", sc)
	}
}

func TestReadSidecarMissing(t *testing.T) {
	_, err := ReadSidecar(t.TempDir())
	if !errors.Is(err, ErrNoSidecar) {
		t.Fatalf("expected ErrNoSidecar, got %v", err)
	}
}

func TestReadSidecarMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFile), `{not json`)
	if _, err := ReadSidecar(dir); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDefaultEndToken(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFile), `{"architecture":"hashlm","eos_token":"</s>"}`)
	eos, err := DefaultEndToken(dir)
	if err != nil || eos != "</s>" {
		t.Fatalf("got %q, %v", eos, err)
	}
	empty := t.TempDir()
	writeFile(t, filepath.Join(empty, ConfigFile), `{"architecture":"hashlm"}`)
	if _, err := DefaultEndToken(empty); err == nil {
		t.Fatalf("expected error without eos")
	}
}
