package archive

import "io"

// Convert drains every entry from src and re-emits it through dst,
// re-running the full compress/crypt pipeline against dst's Options
// rather than copying encoded bytes verbatim -- the "change
// compression/encryption/signature settings on an existing archive"
// operation (§4.5 convert mode). dst must already have had Begin
// called; the caller still owns calling dst.End.
func Convert(src *Reader, dst *Writer) error {
	for {
		entry, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := convertOne(dst, entry); err != nil {
			return err
		}
	}
}

func convertOne(dst *Writer, entry *Entry) error {
	switch entry.Kind {
	case EntryMeta:
		return dst.WriteMetaEntry(*entry.Meta)
	case EntryDirectory:
		return dst.WriteDirectoryEntry(*entry.Directory)
	case EntryLink:
		return dst.WriteLinkEntry(*entry.Link)
	case EntrySpecial:
		return dst.WriteSpecialEntry(*entry.Special)
	case EntryFile:
		if len(entry.File.Paths) > 1 {
			return dst.WriteHardlinkEntry(*entry.File, entry.Content)
		}
		return dst.WriteFileEntry(*entry.File, entry.Content, nil, "")
	case EntryHardlink:
		return dst.WriteHardlinkEntry(*entry.File, entry.Content)
	case EntryImage:
		return dst.WriteImageEntry(*entry.Image, entry.Content)
	default:
		return nil
	}
}
