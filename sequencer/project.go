package sequencer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go-looper/looper"
)

// ErrNoSaves is returned when loading the latest save of an empty project.
var ErrNoSaves = errors.New("no saves found")

const (
	saveVersion     = 1
	timestampLayout = "2006-01-02_15-04-05"
)

// SaveInfo represents a saved project file (for listing)
type SaveInfo struct {
	Filename  string
	Name      string // parsed from filename (empty if unnamed)
	Timestamp time.Time
}

// SaveFile is the on-disk document of one save.
type SaveFile struct {
	Version int             `json:"version"`
	Project string          `json:"project"`
	Saved   time.Time       `json:"saved"`
	Looper  looper.Snapshot `json:"looper"`
}

// Store keeps timestamped saves in one folder per project.
type Store struct {
	root string
	now  func() time.Time
}

// NewStore creates a store rooted at dir. The directory is created on the
// first save.
func NewStore(dir string) *Store {
	return &Store{root: dir, now: time.Now}
}

// DefaultProjectsDir returns ~/.config/go-looper/projects
func DefaultProjectsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-looper", "projects"), nil
}

// Root returns the projects directory.
func (s *Store) Root() string {
	return s.root
}

// ProjectDir returns the path to a specific project
func (s *Store) ProjectDir(projectName string) string {
	return filepath.Join(s.root, sanitizeFilename(projectName))
}

// ListProjects returns all project folder names
func (s *Store) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var projects []string
	for _, entry := range entries {
		if entry.IsDir() {
			projects = append(projects, entry.Name())
		}
	}

	sort.Strings(projects)
	return projects, nil
}

// ListSaves returns timestamped saves for a project, newest first
func (s *Store) ListSaves(projectName string) ([]SaveInfo, error) {
	entries, err := os.ReadDir(s.ProjectDir(projectName))
	if err != nil {
		if os.IsNotExist(err) {
			return []SaveInfo{}, nil
		}
		return nil, err
	}

	var saves []SaveInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if info, ok := parseSaveName(entry.Name()); ok {
			saves = append(saves, info)
		}
	}

	// Sort by timestamp, newest first
	sort.Slice(saves, func(i, j int) bool {
		if saves[i].Timestamp.Equal(saves[j].Timestamp) {
			return saves[i].Filename > saves[j].Filename
		}
		return saves[i].Timestamp.After(saves[j].Timestamp)
	})

	return saves, nil
}

// parseSaveName reads 2024-01-15_14-30-00.json or 2024-01-15_14-30-00_name.json
func parseSaveName(filename string) (SaveInfo, bool) {
	if !strings.HasSuffix(filename, ".json") {
		return SaveInfo{}, false
	}
	baseName := strings.TrimSuffix(filename, ".json")
	if len(baseName) < len(timestampLayout) {
		return SaveInfo{}, false
	}

	ts, err := time.ParseInLocation(timestampLayout, baseName[:len(timestampLayout)], time.Local)
	if err != nil {
		return SaveInfo{}, false
	}

	saveName := ""
	if rest := baseName[len(timestampLayout):]; len(rest) > 1 && rest[0] == '_' {
		saveName = rest[1:]
	}

	return SaveInfo{Filename: filename, Name: saveName, Timestamp: ts}, true
}

// Save writes snap as a new timestamped save in the project and returns its
// filename.
func (s *Store) Save(projectName string, snap looper.Snapshot) (string, error) {
	if projectName == "" {
		projectName = "untitled"
	}

	dir := s.ProjectDir(projectName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	now := s.now()
	data, err := json.MarshalIndent(SaveFile{
		Version: saveVersion,
		Project: projectName,
		Saved:   now,
		Looper:  snap,
	}, "", "  ")
	if err != nil {
		return "", err
	}

	filename := s.freeFilename(dir, now.Format(timestampLayout))
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0644); err != nil {
		return "", err
	}
	return filename, nil
}

// freeFilename keeps two saves within the same second apart.
func (s *Store) freeFilename(dir, stamp string) string {
	filename := stamp + ".json"
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, filename)); os.IsNotExist(err) {
			return filename
		}
		filename = fmt.Sprintf("%s_%d.json", stamp, i)
	}
}

// Load reads a specific save (or most recent if filename empty)
func (s *Store) Load(projectName, filename string) (*SaveFile, error) {
	if filename == "" {
		saves, err := s.ListSaves(projectName)
		if err != nil {
			return nil, err
		}
		if len(saves) == 0 {
			return nil, fmt.Errorf("%w in project %s", ErrNoSaves, projectName)
		}
		filename = saves[0].Filename // saves are sorted newest first
	}

	data, err := os.ReadFile(filepath.Join(s.ProjectDir(projectName), filepath.Base(filename)))
	if err != nil {
		return nil, err
	}

	var file SaveFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	if file.Version != saveVersion {
		return nil, fmt.Errorf("decode %s: unsupported version %d", filename, file.Version)
	}
	return &file, nil
}

// CreateProject creates a new empty project folder
func (s *Store) CreateProject(name string) error {
	return os.MkdirAll(s.ProjectDir(name), 0755)
}

// DeleteSave deletes a specific save file
func (s *Store) DeleteSave(projectName, filename string) error {
	return os.Remove(filepath.Join(s.ProjectDir(projectName), filepath.Base(filename)))
}

// RenameSave renames a save file (changes the name part, keeps timestamp)
func (s *Store) RenameSave(projectName, oldFilename, newName string) (string, error) {
	info, ok := parseSaveName(oldFilename)
	if !ok {
		return "", fmt.Errorf("invalid save filename %q", oldFilename)
	}
	stamp := info.Timestamp.Format(timestampLayout)

	newFilename := stamp + ".json"
	if newName != "" {
		newFilename = stamp + "_" + sanitizeFilename(newName) + ".json"
	}

	dir := s.ProjectDir(projectName)
	if err := os.Rename(filepath.Join(dir, oldFilename), filepath.Join(dir, newFilename)); err != nil {
		return "", err
	}
	return newFilename, nil
}

// DeleteProject deletes entire project folder
func (s *Store) DeleteProject(name string) error {
	return os.RemoveAll(s.ProjectDir(name))
}

// RenameProject renames a project folder
func (s *Store) RenameProject(oldName, newName string) error {
	return os.Rename(s.ProjectDir(oldName), s.ProjectDir(newName))
}

// sanitizeFilename removes/replaces characters that are problematic in filenames
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer(
		" ", "-",
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "",
	).Replace(name)
	if name == "" || name == "." || name == ".." {
		return "untitled"
	}
	return name
}
