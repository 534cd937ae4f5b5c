package props

import (
	"context"
	"encoding/xml"
	"path"
	"strings"

	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/resource"
	"github.com/davstore/davstore/internal/store"
)

// defaultComponents is the component set a calendar advertises when
// its metadata does not restrict it.
var defaultComponents = []string{"VEVENT", "VTODO", "VJOURNAL", "VFREEBUSY"}

// NewRegistry builds the full property table.
func NewRegistry() *Registry {
	r := &Registry{props: make(map[xml.Name]Property)}

	r.register(Property{
		Name:    davxml.ResourceTypeName,
		AllProp: true,
		Get:     getResourceType,
	})
	r.register(Property{
		Name:    davxml.DisplayNameName,
		AllProp: true,
		Get:     getDisplayName,
		Set: metaTextSet(func(m *store.Metadata, v string) {
			m.DisplayName = v
		}),
	})
	r.register(Property{
		Name:    davxml.GetETagName,
		AllProp: true,
		Get:     getETag,
	})
	r.register(Property{
		Name:    davxml.GetContentTypeName,
		AllProp: true,
		Get:     getContentType,
	})
	r.register(Property{
		Name:    xml.Name{Space: davxml.NamespaceDAV, Local: "getcontentlength"},
		AllProp: true,
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			obj, err := pctx.Object(ctx)
			if err != nil {
				return nil, err
			}
			return &davxml.GetContentLength{Length: int64(len(obj.Data))}, nil
		},
	})
	r.register(Property{
		Name:    xml.Name{Space: davxml.NamespaceDAV, Local: "getlastmodified"},
		AllProp: true,
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindItem {
				return nil, ErrNotFound
			}
			_, modified, err := pctx.Resource.Parent.Times(pctx.Resource.Name)
			if err != nil {
				return nil, err
			}
			return &davxml.GetLastModified{Time: davxml.Time(modified)}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceDAV, Local: "creationdate"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindItem {
				return nil, ErrNotFound
			}
			created, _, err := pctx.Resource.Parent.Times(pctx.Resource.Name)
			if err != nil {
				return nil, err
			}
			return &davxml.CreationDate{Time: created.UTC().Format("2006-01-02T15:04:05Z")}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceDAV, Local: "current-user-principal"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Principal == "" {
				return &davxml.CurrentUserPrincipal{Unauthenticated: &struct{}{}}, nil
			}
			return &davxml.CurrentUserPrincipal{Href: &davxml.Href{Path: pctx.Href(pctx.Principal)}}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceDAV, Local: "principal-URL"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindPrincipal {
				return nil, ErrNotFound
			}
			return &davxml.PrincipalURL{Href: davxml.Href{Path: pctx.Href(pctx.Resource.Path)}}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceDAV, Local: "owner"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			principal := pctx.Resource.PrincipalPath()
			if principal == "" {
				return nil, ErrNotFound
			}
			return &davxml.Owner{Href: davxml.Href{Path: pctx.Href(principal)}}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceDAV, Local: "supported-report-set"},
		Get:  getSupportedReportSet,
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceDAV, Local: "sync-token"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if !pctx.Resource.IsStore() {
				return nil, ErrNotFound
			}
			token, err := pctx.Resource.Collection.SyncToken()
			if err != nil {
				return nil, err
			}
			return &davxml.SyncTokenProp{Token: token}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalendarServer, Local: "getctag"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if !pctx.Resource.IsStore() {
				return nil, ErrNotFound
			}
			ctag, err := pctx.Resource.Collection.CTag()
			if err != nil {
				return nil, err
			}
			return &davxml.GetCTag{CTag: ctag}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceDAV, Local: "add-member"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if !pctx.Resource.AcceptsMembers() {
				return nil, ErrNotFound
			}
			return &davxml.AddMember{Href: davxml.Href{Path: pctx.Href(pctx.Resource.Path)}}, nil
		},
	})
	// Locking is not provided; both properties are advertised empty so
	// clients probing for it see a well-formed answer.
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceDAV, Local: "supportedlock"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			return &davxml.SupportedLock{}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceDAV, Local: "lockdiscovery"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			return &davxml.LockDiscovery{}, nil
		},
	})

	registerCalDAV(r)
	registerCardDAV(r)
	return r
}

func registerCalDAV(r *Registry) {
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalDAV, Local: "calendar-home-set"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindPrincipal {
				return nil, ErrNotFound
			}
			home := pctx.Resource.Path + resource.CalendarHomeSegment + "/"
			return &davxml.CalendarHomeSet{Hrefs: []davxml.Href{{Path: pctx.Href(home)}}}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalDAV, Local: "calendar-user-address-set"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindPrincipal {
				return nil, ErrNotFound
			}
			return &davxml.CalendarUserAddressSet{Hrefs: []davxml.Href{{Path: pctx.Href(pctx.Resource.Path)}}}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalDAV, Local: "schedule-inbox-URL"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindPrincipal {
				return nil, ErrNotFound
			}
			return &davxml.ScheduleInboxURL{Href: davxml.Href{Path: pctx.Href(pctx.Resource.Path + "inbox/")}}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalDAV, Local: "schedule-outbox-URL"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindPrincipal {
				return nil, ErrNotFound
			}
			return &davxml.ScheduleOutboxURL{Href: davxml.Href{Path: pctx.Href(pctx.Resource.Path + "outbox/")}}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalDAV, Local: "calendar-description"},
		Get: calendarMetaGet(func(m *store.Metadata) (interface{}, bool) {
			if m.Description == "" {
				return nil, false
			}
			return &davxml.CalendarDescription{Description: m.Description}, true
		}),
		Set: metaTextSet(func(m *store.Metadata, v string) {
			m.Description = v
		}),
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalDAV, Local: "calendar-timezone"},
		Get: calendarMetaGet(func(m *store.Metadata) (interface{}, bool) {
			if m.Timezone == "" {
				return nil, false
			}
			return &davxml.CalendarTimezone{Data: m.Timezone}, true
		}),
		Set: metaTextSet(func(m *store.Metadata, v string) {
			m.Timezone = v
		}),
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceApple, Local: "calendar-color"},
		Get: calendarMetaGet(func(m *store.Metadata) (interface{}, bool) {
			if m.Color == "" {
				return nil, false
			}
			return &davxml.CalendarColor{Color: m.Color}, true
		}),
		Set: metaTextSet(func(m *store.Metadata, v string) {
			m.Color = v
		}),
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceApple, Local: "calendar-order"},
		Get: calendarMetaGet(func(m *store.Metadata) (interface{}, bool) {
			if m.Order == "" {
				return nil, false
			}
			return &davxml.CalendarOrder{Order: m.Order}, true
		}),
		Set: metaTextSet(func(m *store.Metadata, v string) {
			m.Order = v
		}),
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalDAV, Local: "supported-calendar-component-set"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			comps, err := SupportedComponents(pctx.Resource)
			if err != nil {
				return nil, err
			}
			set := &davxml.SupportedCalendarComponentSet{}
			for _, name := range comps {
				set.Comp = append(set.Comp, davxml.CompName{Name: name})
			}
			return set, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalDAV, Local: "supported-calendar-data"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if !isCalendarKind(pctx.Resource.Kind) {
				return nil, ErrNotFound
			}
			return &davxml.SupportedCalendarData{
				Types: []davxml.CalendarDataType{{ContentType: "text/calendar", Version: "2.0"}},
			}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalDAV, Local: "max-resource-size"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if !isCalendarKind(pctx.Resource.Kind) {
				return nil, ErrNotFound
			}
			size, err := maxResourceSize(pctx.Resource)
			if err != nil || size == 0 {
				return nil, ErrNotFound
			}
			return &davxml.MaxResourceSize{Size: size}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalendarServer, Local: "source"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			meta, err := subscriptionMeta(pctx.Resource)
			if err != nil {
				return nil, err
			}
			if meta.Source == "" {
				return nil, ErrNotFound
			}
			return &davxml.SubscriptionSource{Href: davxml.Href{Path: meta.Source}}, nil
		},
		Set: func(ctx context.Context, pctx *Context, raw *davxml.RawXMLValue) error {
			if _, err := subscriptionMeta(pctx.Resource); err != nil {
				return err
			}
			source := ""
			if raw != nil {
				var src davxml.SubscriptionSource
				if err := raw.Decode(&src); err != nil {
					return err
				}
				source = src.Href.Path
			}
			return pctx.Resource.Collection.SetMetadata(func(m *store.Metadata) {
				m.Source = source
			})
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCalendarServer, Local: "refreshrate"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			meta, err := subscriptionMeta(pctx.Resource)
			if err != nil {
				return nil, err
			}
			if meta.RefreshRate == "" {
				return nil, ErrNotFound
			}
			return &davxml.RefreshRate{Rate: meta.RefreshRate}, nil
		},
		Set: metaTextSet(func(m *store.Metadata, v string) {
			m.RefreshRate = v
		}),
	})
}

func registerCardDAV(r *Registry) {
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCardDAV, Local: "addressbook-home-set"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindPrincipal {
				return nil, ErrNotFound
			}
			home := pctx.Resource.Path + resource.AddressbookHomeSegment + "/"
			return &davxml.AddressbookHomeSet{Hrefs: []davxml.Href{{Path: pctx.Href(home)}}}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCardDAV, Local: "addressbook-description"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindAddressbook {
				return nil, ErrNotFound
			}
			meta, err := pctx.Resource.Collection.Metadata()
			if err != nil {
				return nil, err
			}
			if meta.Description == "" {
				return nil, ErrNotFound
			}
			return &davxml.AddressbookDescription{Description: meta.Description}, nil
		},
		Set: metaTextSet(func(m *store.Metadata, v string) {
			m.Description = v
		}),
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCardDAV, Local: "supported-address-data"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindAddressbook {
				return nil, ErrNotFound
			}
			return &davxml.SupportedAddressData{
				Types: []davxml.AddressDataType{
					{ContentType: "text/vcard", Version: "3.0"},
					{ContentType: "text/vcard", Version: "4.0"},
				},
			}, nil
		},
	})
	r.register(Property{
		Name: xml.Name{Space: davxml.NamespaceCardDAV, Local: "max-resource-size"},
		Get: func(ctx context.Context, pctx *Context) (interface{}, error) {
			if pctx.Resource.Kind != resource.KindAddressbook {
				return nil, ErrNotFound
			}
			size, err := maxResourceSize(pctx.Resource)
			if err != nil || size == 0 {
				return nil, ErrNotFound
			}
			return &davxml.CardMaxResourceSize{Size: size}, nil
		},
	})
}

func getResourceType(ctx context.Context, pctx *Context) (interface{}, error) {
	switch pctx.Resource.Kind {
	case resource.KindItem:
		return davxml.NewResourceType(), nil
	case resource.KindPrincipal:
		return davxml.NewResourceType(davxml.CollectionName, davxml.PrincipalName), nil
	case resource.KindCalendar:
		return davxml.NewResourceType(davxml.CollectionName, davxml.CalendarName), nil
	case resource.KindAddressbook:
		return davxml.NewResourceType(davxml.CollectionName, davxml.AddressbookName), nil
	case resource.KindScheduleInbox:
		return davxml.NewResourceType(davxml.CollectionName, davxml.ScheduleInboxName), nil
	case resource.KindScheduleOutbox:
		return davxml.NewResourceType(davxml.CollectionName, davxml.ScheduleOutboxName), nil
	case resource.KindSubscription:
		return davxml.NewResourceType(davxml.CollectionName, davxml.SubscribedName), nil
	default:
		return davxml.NewResourceType(davxml.CollectionName), nil
	}
}

func getDisplayName(ctx context.Context, pctx *Context) (interface{}, error) {
	if pctx.Resource.IsStore() {
		meta, err := pctx.Resource.Collection.Metadata()
		if err != nil {
			return nil, err
		}
		if meta.DisplayName != "" {
			return &davxml.DisplayName{Name: meta.DisplayName}, nil
		}
	}
	if pctx.Resource.Kind == resource.KindItem {
		return nil, ErrNotFound
	}
	name := path.Base(strings.TrimSuffix(pctx.Resource.Path, "/"))
	if name == "/" || name == "." {
		return nil, ErrNotFound
	}
	return &davxml.DisplayName{Name: name}, nil
}

func getETag(ctx context.Context, pctx *Context) (interface{}, error) {
	if pctx.Resource.Kind == resource.KindItem {
		obj, err := pctx.Object(ctx)
		if err != nil {
			return nil, err
		}
		return &davxml.GetETag{ETag: davxml.ETag(obj.ETag)}, nil
	}
	if pctx.Resource.IsStore() {
		ctag, err := pctx.Resource.Collection.CTag()
		if err != nil {
			return nil, err
		}
		return &davxml.GetETag{ETag: davxml.ETag(ctag)}, nil
	}
	return nil, ErrNotFound
}

func getContentType(ctx context.Context, pctx *Context) (interface{}, error) {
	if pctx.Resource.Kind != resource.KindItem {
		return &davxml.GetContentType{Type: "httpd/unix-directory"}, nil
	}
	obj, err := pctx.Object(ctx)
	if err != nil {
		return nil, err
	}
	return &davxml.GetContentType{Type: obj.ContentType}, nil
}

func getSupportedReportSet(ctx context.Context, pctx *Context) (interface{}, error) {
	names := []xml.Name{davxml.ExpandPropertyName, davxml.PrincipalMatchName}
	if pctx.Resource.IsStore() {
		names = append(names, davxml.SyncCollectionName)
	}
	switch pctx.Resource.Kind {
	case resource.KindCalendar, resource.KindScheduleInbox, resource.KindScheduleOutbox, resource.KindSubscription:
		names = append(names,
			davxml.CalendarQueryName, davxml.CalendarMultigetName, davxml.FreeBusyQueryName)
	case resource.KindAddressbook:
		names = append(names,
			davxml.AddressbookQueryName, davxml.AddressbookMultigetName)
	}
	return davxml.NewSupportedReportSet(names...), nil
}

func isCalendarKind(k resource.Kind) bool {
	switch k {
	case resource.KindCalendar, resource.KindScheduleInbox, resource.KindScheduleOutbox, resource.KindSubscription:
		return true
	}
	return false
}

func calendarMetaGet(fn func(*store.Metadata) (interface{}, bool)) GetFunc {
	return func(ctx context.Context, pctx *Context) (interface{}, error) {
		if !isCalendarKind(pctx.Resource.Kind) || !pctx.Resource.IsStore() {
			return nil, ErrNotFound
		}
		meta, err := pctx.Resource.Collection.Metadata()
		if err != nil {
			return nil, err
		}
		v, ok := fn(meta)
		if !ok {
			return nil, ErrNotFound
		}
		return v, nil
	}
}

func subscriptionMeta(r *resource.Resource) (*store.Metadata, error) {
	if r.Kind != resource.KindSubscription || !r.IsStore() {
		return nil, ErrNotFound
	}
	return r.Collection.Metadata()
}

// metaTextSet builds a SetFunc storing the element text into collection
// metadata; a nil raw value clears the field.
func metaTextSet(apply func(*store.Metadata, string)) SetFunc {
	return func(ctx context.Context, pctx *Context, raw *davxml.RawXMLValue) error {
		if !pctx.Resource.IsStore() {
			return ErrNotFound
		}
		value := ""
		if raw != nil {
			value = raw.Text()
		}
		return pctx.Resource.Collection.SetMetadata(func(m *store.Metadata) {
			apply(m, value)
		})
	}
}

// SupportedComponents returns the component names a calendar accepts.
func SupportedComponents(r *resource.Resource) ([]string, error) {
	if !isCalendarKind(r.Kind) || !r.IsStore() {
		return nil, ErrNotFound
	}
	meta, err := r.Collection.Metadata()
	if err != nil {
		return nil, err
	}
	if len(meta.Components) > 0 {
		return meta.Components, nil
	}
	return defaultComponents, nil
}

// MaxSize returns the configured size cap of a collection, zero
// meaning unlimited.
func MaxSize(r *resource.Resource) int64 {
	size, err := maxResourceSize(r)
	if err != nil {
		return 0
	}
	return size
}

func maxResourceSize(r *resource.Resource) (int64, error) {
	if !r.IsStore() {
		return 0, ErrNotFound
	}
	meta, err := r.Collection.Metadata()
	if err != nil {
		return 0, err
	}
	return meta.MaxResourceSize, nil
}
