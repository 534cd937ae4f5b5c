package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// metadataFile is the INI sidecar holding the collection type and
// presentation properties. It lives next to the repository, under the
// reserved namespace, and is never listed as a member.
const metadataFile = ".davstore.ini"

const metadataSection = "davstore"

// Metadata holds the collection type and presentation properties.
type Metadata struct {
	Type        Kind
	DisplayName string
	Description string
	Color       string
	Order       string
	// Source and RefreshRate apply to subscription collections.
	Source      string
	RefreshRate string
	// Timezone is the calendar VTIMEZONE definition.
	Timezone string
	// Components is the supported component set of a calendar, e.g.
	// VEVENT,VTODO. Empty means unrestricted.
	Components []string
	// MaxResourceSize bounds PUT bodies in bytes. Zero means no bound.
	MaxResourceSize int64
}

func (c *Collection) metadataPath() string {
	return filepath.Join(c.path, metadataFile)
}

// Metadata returns the collection metadata, loading the sidecar on
// first use.
func (c *Collection) Metadata() (*Metadata, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	if c.meta != nil {
		return c.meta, nil
	}

	meta := &Metadata{Type: KindCollection}
	if c.path != "" {
		f, err := ini.Load(c.metadataPath())
		if err == nil {
			sec := f.Section(metadataSection)
			meta.Type = Kind(sec.Key("type").MustString(string(KindCollection)))
			meta.DisplayName = sec.Key("displayname").String()
			meta.Description = sec.Key("description").String()
			meta.Color = sec.Key("color").String()
			meta.Order = sec.Key("order").String()
			meta.Source = sec.Key("source").String()
			meta.RefreshRate = sec.Key("refreshrate").String()
			meta.Timezone = sec.Key("timezone").String()
			if v := sec.Key("components").String(); v != "" {
				meta.Components = strings.Split(v, ",")
			}
			meta.MaxResourceSize = sec.Key("max-resource-size").MustInt64(0)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("store - Metadata: %w", err)
		}
	}
	c.meta = meta
	return meta, nil
}

// SetMetadata applies fn to the metadata and persists the sidecar.
func (c *Collection) SetMetadata(fn func(*Metadata)) error {
	meta, err := c.Metadata()
	if err != nil {
		return err
	}

	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	fn(meta)

	if c.path == "" {
		return nil
	}

	f := ini.Empty()
	sec := f.Section(metadataSection)
	sec.Key("type").SetValue(string(meta.Type))
	if meta.DisplayName != "" {
		sec.Key("displayname").SetValue(meta.DisplayName)
	}
	if meta.Description != "" {
		sec.Key("description").SetValue(meta.Description)
	}
	if meta.Color != "" {
		sec.Key("color").SetValue(meta.Color)
	}
	if meta.Order != "" {
		sec.Key("order").SetValue(meta.Order)
	}
	if meta.Source != "" {
		sec.Key("source").SetValue(meta.Source)
	}
	if meta.RefreshRate != "" {
		sec.Key("refreshrate").SetValue(meta.RefreshRate)
	}
	if meta.Timezone != "" {
		sec.Key("timezone").SetValue(meta.Timezone)
	}
	if len(meta.Components) > 0 {
		sec.Key("components").SetValue(strings.Join(meta.Components, ","))
	}
	if meta.MaxResourceSize > 0 {
		sec.Key("max-resource-size").SetValue(fmt.Sprintf("%d", meta.MaxResourceSize))
	}

	if err := f.SaveTo(c.metadataPath()); err != nil {
		return fmt.Errorf("store - SetMetadata: %w", err)
	}
	return nil
}
