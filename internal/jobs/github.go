package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	fetchTree = "tree"
	fetchFile = "file"

	maxTreeEntries = 500
	maxFileRunes   = 5000
)

// RepoSource supplies repository context for presets that ask for it.
type RepoSource interface {
	Tree(ctx context.Context, repo string) (string, error)
	File(ctx context.Context, repo, path string) (string, error)
}

// GitHubSource reads trees and files through the GitHub REST API.
type GitHubSource struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewGitHubSource(baseURL, token string) *GitHubSource {
	return &GitHubSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repository %q is not owner/name", repo)
	}
	return owner, name, nil
}

func (g *GitHubSource) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "agentdash")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github %s: http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (g *GitHubSource) defaultBranch(ctx context.Context, owner, name string) (string, error) {
	var repo struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := g.get(ctx, "/repos/"+owner+"/"+name, &repo); err != nil {
		return "", err
	}
	if repo.DefaultBranch == "" {
		return "main", nil
	}
	return repo.DefaultBranch, nil
}

// Tree lists the default branch's files, one "path (size bytes)" per line.
func (g *GitHubSource) Tree(ctx context.Context, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	branch, err := g.defaultBranch(ctx, owner, name)
	if err != nil {
		return "", err
	}
	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
			Size int64  `json:"size"`
		} `json:"tree"`
	}
	if err := g.get(ctx, "/repos/"+owner+"/"+name+"/git/trees/"+url.PathEscape(branch)+"?recursive=1", &tree); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Repo Tree: %s@%s (%d entries)\n", repo, branch, len(tree.Tree))
	for i, item := range tree.Tree {
		if i == maxTreeEntries {
			b.WriteString("...\n")
			break
		}
		if item.Type == "tree" {
			b.WriteString(item.Path + "/\n")
			continue
		}
		fmt.Fprintf(&b, "%s (%d bytes)\n", item.Path, item.Size)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// File returns the file's content on the default branch, cut to a bounded
// number of runes.
func (g *GitHubSource) File(ctx context.Context, repo, path string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	branch, err := g.defaultBranch(ctx, owner, name)
	if err != nil {
		return "", err
	}
	var file struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	p := "/repos/" + owner + "/" + name + "/contents/" + strings.TrimLeft(path, "/") + "?ref=" + url.QueryEscape(branch)
	if err := g.get(ctx, p, &file); err != nil {
		return "", err
	}
	content := file.Content
	if file.Encoding == "base64" {
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", path, err)
		}
		content = strings.ToValidUTF8(string(raw), "")
	}
	if utf8.RuneCountInString(content) > maxFileRunes {
		content = string([]rune(content)[:maxFileRunes]) + "..."
	}
	return "File: " + path + "\n\n" + content, nil
}
