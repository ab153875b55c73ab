package identity

import (
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const pemTypeSeed = "MESHNET IDENTITY SEED"

// ============================================================================
//                              身份持久化
// ============================================================================

// Save 保存身份种子到 PEM 文件
//
// 使用临时文件 + rename 原子写入，文件权限 0600。
func Save(p *Provider, path string) error {
	block := &pem.Block{
		Type:  pemTypeSeed,
		Bytes: p.Seed(),
	}
	return atomicWriteFile(path, pem.EncodeToMemory(block), 0600)
}

// Load 从 PEM 文件加载身份
func Load(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeSeed {
		return nil, ErrInvalidPEM
	}
	return FromSeed(block.Bytes)
}

// LoadOrGenerate 加载身份，文件不存在时生成并保存
func LoadOrGenerate(path string) (*Provider, error) {
	p, err := Load(path)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("identity: load %s: %w", path, err)
	}

	p, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := Save(p, path); err != nil {
		return nil, fmt.Errorf("identity: save %s: %w", path, err)
	}
	return p, nil
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
