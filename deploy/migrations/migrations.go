package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

// Files 包含账本（0001）与验证轮次（0002）的建表脚本。
//
//go:embed *.sql
var Files embed.FS

// Migration 是一个迁移脚本拆分后的语句序列，Version 取文件名第一个下划线之前的部分。
type Migration struct {
	Version    string
	Name       string
	Statements []string
}

// Load 读取 fsys 根目录下的 .sql 文件并按版本号排序，没有任何语句的文件会被跳过。
func Load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	out := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		stmts := Split(string(content))
		if len(stmts) == 0 {
			continue
		}
		out = append(out, Migration{Version: versionOf(name), Name: name, Statements: stmts})
	}
	slices.SortFunc(out, func(a, b Migration) int {
		if c := strings.Compare(a.Version, b.Version); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Split 按分号拆分脚本，忽略空语句与以 -- 开头的注释行。脚本中不允许在字符串字面量里出现分号。
func Split(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var stmts []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func versionOf(name string) string {
	base := strings.TrimSuffix(path.Base(name), ".sql")
	version, _, _ := strings.Cut(base, "_")
	return version
}

// Latest 返回嵌入脚本中最大的版本号，例如 "0002"。
func Latest() string {
	all, err := Load(Files)
	if err != nil || len(all) == 0 {
		return ""
	}
	return all[len(all)-1].Version
}
