package hide

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strconv"
)

// packagesXML mirrors the handful of attributes this package needs from
// Android's /data/system/packages.xml (spec.md §4.9 "re-parse the
// XML"). Every other attribute is left unparsed on purpose — this
// module is not a package-manager reimplementation.
type packagesXML struct {
	XMLName  xml.Name `xml:"packages"`
	Packages []struct {
		Name     string `xml:"name,attr"`
		CodePath string `xml:"codePath,attr"`
		UserID   string `xml:"userId,attr"`
	} `xml:"package"`
}

// packageRecord is one parsed <package> entry with UserID resolved to an
// int.
type packageRecord struct {
	Name     string
	CodePath string
	UID      int
}

func parsePackagesXML(path string) ([]packageRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc packagesXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	out := make([]packageRecord, 0, len(doc.Packages))
	for _, p := range doc.Packages {
		uid, err := strconv.Atoi(p.UserID)
		if err != nil {
			continue
		}
		out = append(out, packageRecord{Name: p.Name, CodePath: p.CodePath, UID: uid})
	}
	return out, nil
}

// apkPath resolves codePath to the APK file to watch: the path itself
// if it names a file, or the first .apk found directly inside it if it
// names a directory (spec.md §4.9 "direct if codePath is a file, else
// the first .apk inside the codePath directory").
func apkPath(codePath string) (string, bool) {
	info, err := os.Stat(codePath)
	if err != nil {
		return "", false
	}
	if !info.IsDir() {
		return codePath, true
	}

	entries, err := os.ReadDir(codePath)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".apk" {
			return filepath.Join(codePath, e.Name()), true
		}
	}
	return "", false
}
