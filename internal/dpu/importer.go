// Package dpu installs, replaces and removes DPU templates and their JARs in
// the DPU library.
package dpu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

// DefaultMaxUploadSize is used when no upload limit is configured.
const DefaultMaxUploadSize = 100 << 20

var (
	// ErrTemplateInUse is returned when deleting a template that pipelines or
	// child templates still reference.
	ErrTemplateInUse = errors.New("DPU template is in use")

	// ErrInvalidType is returned for uploads without a valid DPU type.
	ErrInvalidType = errors.New("invalid DPU type")

	// ErrChildTemplate is returned for JAR operations on a child template.
	ErrChildTemplate = errors.New("child templates share the JAR of their parent")
)

// Upload is a file received for installation.
type Upload struct {
	Filename string
	Content  io.Reader

	// Type is the kind of the new templates.
	Type        models.DPUType
	Description string
	Visibility  models.Visibility
	Owner       string
}

// Importer installs uploaded DPUs into the library directory.
type Importer struct {
	store      storage.Store
	libraryDir string
	uploadDir  string
	maxSize    int64
	logger     *log.Logger
}

// NewImporter creates an importer for the library in cfg.LibraryDir.
func NewImporter(store storage.Store, cfg config.FilesConfig, logger *log.Logger) *Importer {
	maxSize := cfg.MaxUploadSize
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	return &Importer{
		store:      store,
		libraryDir: cfg.LibraryDir,
		uploadDir:  cfg.UploadDir,
		maxSize:    maxSize,
		logger:     logger,
	}
}

// LibraryDir returns the root of the DPU library.
func (im *Importer) LibraryDir() string {
	return im.libraryDir
}

// Import installs the JAR, or every JAR of a ZIP, in the upload. A JAR whose
// name matches an installed template replaces that template's JAR; other
// JARs create new templates named after the JAR.
func (im *Importer) Import(ctx context.Context, upload Upload) ([]*models.DPUTemplate, error) {
	if !upload.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, upload.Type)
	}

	var templates []*models.DPUTemplate
	err := im.withUpload(upload, func(jars []string) error {
		for _, jar := range jars {
			if err := ctx.Err(); err != nil {
				return err
			}
			tpl, err := im.install(jar, upload)
			if err != nil {
				return err
			}
			templates = append(templates, tpl)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return templates, nil
}

// Replace swaps the JAR of an existing template. The upload must carry
// exactly one JAR with the same name part as the installed one.
func (im *Importer) Replace(ctx context.Context, templateID string, upload Upload) (*models.DPUTemplate, error) {
	tpl, err := im.store.GetDPUTemplate(templateID)
	if err != nil {
		return nil, err
	}
	if tpl.IsChild() {
		return nil, fmt.Errorf("%w: %s derives from %s", ErrChildTemplate, tpl.Name, tpl.ParentID)
	}

	err = im.withUpload(upload, func(jars []string) error {
		if len(jars) != 1 {
			return fmt.Errorf("%w: expected exactly one JAR, found %d", ErrInvalidArchive, len(jars))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name, _, err := ParseJarName(jars[0])
		if err != nil {
			return err
		}
		if tpl.JarName != "" {
			if current, _, err := ParseJarName(tpl.JarName); err == nil && current != name {
				return fmt.Errorf("%w: %s does not replace %s", ErrInvalidJarName, filepath.Base(jars[0]), tpl.JarName)
			}
		}
		return im.installJar(jars[0], tpl)
	})
	if err != nil {
		return nil, err
	}
	if err := im.store.SaveDPUTemplate(tpl); err != nil {
		return nil, fmt.Errorf("failed to save template: %w", err)
	}
	im.logger.Infof("Replaced JAR of DPU template %s with %s", tpl.Name, tpl.JarName)
	return tpl, nil
}

// Derive creates a child template of parentID. The child shares the
// parent's JAR and starts from its configuration.
func (im *Importer) Derive(parentID, name, owner string) (*models.DPUTemplate, error) {
	parent, err := im.store.GetDPUTemplate(parentID)
	if err != nil {
		return nil, err
	}
	child := models.NewDPUTemplate(strings.TrimSpace(name), parent.DPUType, owner)
	child.ParentID = parent.ID
	child.Description = parent.Description
	child.Configuration = parent.Configuration
	child.JarName = parent.JarName
	child.JarDirectory = parent.JarDirectory
	if err := im.store.SaveDPUTemplate(child); err != nil {
		return nil, err
	}
	im.logger.Infof("Derived DPU template %s from %s", child.Name, parent.Name)
	return child, nil
}

// Delete removes a template and, unless it is a child template, its JAR
// directory. Templates used by pipelines or with children are kept.
func (im *Importer) Delete(ctx context.Context, templateID string) error {
	tpl, err := im.store.GetDPUTemplate(templateID)
	if err != nil {
		return err
	}

	pipelines, err := im.store.ListPipelinesUsingTemplate(templateID)
	if err != nil {
		return fmt.Errorf("failed to list pipelines: %w", err)
	}
	if len(pipelines) > 0 {
		names := make([]string, 0, len(pipelines))
		for _, p := range pipelines {
			names = append(names, p.Name)
		}
		sort.Strings(names)
		return fmt.Errorf("%w: used by pipeline(s) %s", ErrTemplateInUse, strings.Join(names, ", "))
	}
	children, err := im.store.ListDPUTemplates(storage.DPUFilter{ParentID: templateID})
	if err != nil {
		return fmt.Errorf("failed to list child templates: %w", err)
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: %d child template(s) derive from it", ErrTemplateInUse, len(children))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !tpl.IsChild() && tpl.JarDirectory != "" {
		dir, err := im.jarDir(tpl.JarDirectory)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove JAR directory: %w", err)
		}
	}
	if err := im.store.DeleteDPUTemplate(templateID); err != nil {
		return err
	}
	im.logger.Infof("Deleted DPU template %s", tpl.Name)
	return nil
}

// Missing returns the templates whose JAR is not present in the library.
func (im *Importer) Missing() ([]*models.DPUTemplate, error) {
	templates, err := im.store.ListDPUTemplates(storage.DPUFilter{})
	if err != nil {
		return nil, err
	}
	var missing []*models.DPUTemplate
	for _, tpl := range templates {
		if tpl.IsChild() || tpl.JarName == "" {
			continue
		}
		dir, err := im.jarDir(tpl.JarDirectory)
		if err != nil {
			missing = append(missing, tpl)
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, tpl.JarName)); err != nil {
			missing = append(missing, tpl)
		}
	}
	return missing, nil
}

// withUpload stores the upload in a temporary directory, unpacks ZIPs and
// calls fn with the JARs found. The directory is always removed.
func (im *Importer) withUpload(upload Upload, fn func(jars []string) error) error {
	name := filepath.Base(upload.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".jar" && ext != ".zip" {
		return fmt.Errorf("%w: %s is neither a .jar nor a .zip file", ErrInvalidArchive, name)
	}

	if im.uploadDir != "" {
		if err := os.MkdirAll(im.uploadDir, 0o755); err != nil {
			return fmt.Errorf("failed to create upload directory: %w", err)
		}
	}
	tmp, err := os.MkdirTemp(im.uploadDir, "upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			im.logger.Warnf("Failed to remove upload directory %s: %v", tmp, err)
		}
	}()

	stored := filepath.Join(tmp, name)
	if err := im.save(upload.Content, stored); err != nil {
		return err
	}

	if ext == ".jar" {
		return fn([]string{stored})
	}

	unpacked := filepath.Join(tmp, "unpacked")
	if err := os.Mkdir(unpacked, 0o755); err != nil {
		return err
	}
	if err := unzip(stored, unpacked, im.maxSize); err != nil {
		return err
	}
	jars, err := findJars(unpacked)
	if err != nil {
		return err
	}
	if len(jars) == 0 {
		return fmt.Errorf("%w in %s", ErrNoJar, name)
	}
	return fn(jars)
}

func (im *Importer) save(r io.Reader, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(r, im.maxSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	if n > im.maxSize {
		return fmt.Errorf("%w: upload exceeds %d bytes", ErrInvalidArchive, im.maxSize)
	}
	return nil
}

// install creates or updates the template for one JAR.
func (im *Importer) install(jar string, upload Upload) (*models.DPUTemplate, error) {
	name, version, err := ParseJarName(jar)
	if err != nil {
		return nil, err
	}

	tpl, err := im.store.GetDPUTemplateByName(name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		tpl = models.NewDPUTemplate(name, upload.Type, upload.Owner)
		tpl.JarDirectory = name
		tpl.Description = upload.Description
		if upload.Visibility != "" {
			tpl.Visibility = upload.Visibility
		}
	case err != nil:
		return nil, err
	case tpl.IsChild():
		return nil, fmt.Errorf("template %s is a child template and cannot receive a JAR", name)
	}

	if err := im.installJar(jar, tpl); err != nil {
		return nil, err
	}
	if err := im.store.SaveDPUTemplate(tpl); err != nil {
		return nil, fmt.Errorf("failed to save template %s: %w", name, err)
	}
	im.logger.Infof("Installed DPU %s version %s", name, version)
	return tpl, nil
}

// installJar moves jar into the template's library directory, replacing the
// previous JAR, and records the file name on tpl.
func (im *Importer) installJar(jar string, tpl *models.DPUTemplate) error {
	if tpl.JarDirectory == "" {
		tpl.JarDirectory = tpl.Name
	}
	dir, err := im.jarDir(tpl.JarDirectory)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create JAR directory: %w", err)
	}

	base := filepath.Base(jar)
	if err := moveFile(jar, filepath.Join(dir, base)); err != nil {
		return fmt.Errorf("failed to install %s: %w", base, err)
	}
	if tpl.JarName != "" && tpl.JarName != base {
		if err := os.Remove(filepath.Join(dir, tpl.JarName)); err != nil && !os.IsNotExist(err) {
			im.logger.Warnf("Failed to remove previous JAR %s: %v", tpl.JarName, err)
		}
	}
	tpl.JarName = base
	tpl.UpdatedAt = time.Now()
	return nil
}

// jarDir resolves a template directory inside the library.
func (im *Importer) jarDir(name string) (string, error) {
	root, err := filepath.Abs(im.libraryDir)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, name)
	if dir == root || !strings.HasPrefix(dir, root+string(filepath.Separator)) {
		return "", fmt.Errorf("JAR directory %q is outside the DPU library", name)
	}
	return dir, nil
}
