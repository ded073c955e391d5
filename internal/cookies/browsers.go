package cookies

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// store is one candidate cookie location. Firefox-family browsers are found
// through profiles.ini; Chromium-family ones have fixed paths.
type store struct {
	Browser     string
	ProfilesIni string
	Path        string
}

type family struct {
	name string
	dir  string
}

// knownStores lists candidate stores in priority order for goos, rooted at
// home (and appData/localAppData on Windows).
func knownStores(goos, home, appData, localAppData string) []store {
	var ff, lw string
	var chromium []family
	switch goos {
	case "windows":
		ff = filepath.Join(appData, "Mozilla", "Firefox")
		lw = filepath.Join(appData, "LibreWolf")
		chromium = append(chromium,
			family{"Chrome", filepath.Join(localAppData, "Google", "Chrome", "User Data")},
			family{"Chromium", filepath.Join(localAppData, "Chromium", "User Data")},
			family{"Edge", filepath.Join(localAppData, "Microsoft", "Edge", "User Data")},
			family{"Brave", filepath.Join(localAppData, "BraveSoftware", "Brave-Browser", "User Data")},
		)
	case "darwin":
		support := filepath.Join(home, "Library", "Application Support")
		ff = filepath.Join(support, "Firefox")
		lw = filepath.Join(support, "librewolf")
		chromium = append(chromium,
			family{"Chrome", filepath.Join(support, "Google", "Chrome")},
			family{"Chromium", filepath.Join(support, "Chromium")},
			family{"Edge", filepath.Join(support, "Microsoft Edge")},
			family{"Brave", filepath.Join(support, "BraveSoftware", "Brave-Browser")},
		)
	default:
		ff = filepath.Join(home, ".mozilla", "firefox")
		lw = filepath.Join(home, ".librewolf")
		config := filepath.Join(home, ".config")
		chromium = append(chromium,
			family{"Chrome", filepath.Join(config, "google-chrome")},
			family{"Chromium", filepath.Join(config, "chromium")},
			family{"Edge", filepath.Join(config, "microsoft-edge")},
			family{"Brave", filepath.Join(config, "BraveSoftware", "Brave-Browser")},
		)
	}

	stores := []store{
		{Browser: "Firefox", ProfilesIni: filepath.Join(ff, "profiles.ini")},
	}
	if goos == "linux" {
		stores = append(stores, store{Browser: "Firefox", ProfilesIni: filepath.Join(home, "snap", "firefox", "common", ".mozilla", "firefox", "profiles.ini")})
	}
	stores = append(stores, store{Browser: "LibreWolf", ProfilesIni: filepath.Join(lw, "profiles.ini")})
	for _, c := range chromium {
		stores = append(stores,
			store{Browser: c.name, Path: filepath.Join(c.dir, "Default", "Network", "Cookies")},
			store{Browser: c.name, Path: filepath.Join(c.dir, "Default", "Cookies")},
		)
	}
	return stores
}

func defaultStores() []store {
	home, _ := os.UserHomeDir()
	return knownStores(runtime.GOOS, home, os.Getenv("APPDATA"), os.Getenv("LOCALAPPDATA"))
}

// resolve returns the cookie file for s, or "" if it does not exist.
func (s store) resolve() string {
	path := s.Path
	if s.ProfilesIni != "" {
		profile := defaultProfile(s.ProfilesIni)
		if profile == "" {
			return ""
		}
		path = filepath.Join(profile, "cookies.sqlite")
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return ""
	}
	return path
}

// defaultProfile reads a profiles.ini and returns the default profile
// directory. An [Install*] Default= entry wins over a [Profile*] section
// marked Default=1.
func defaultProfile(iniPath string) string {
	f, err := os.Open(iniPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	base := filepath.Dir(iniPath)
	var (
		section, install, marked string
		path                     string
		isDefault                bool
	)
	flush := func() {
		if strings.HasPrefix(section, "Profile") && isDefault && marked == "" {
			marked = path
		}
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			flush()
			section = strings.Trim(line, "[]")
			path, isDefault = "", false
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch {
		case strings.HasPrefix(section, "Install") && key == "Default" && install == "":
			install = profileDir(base, val)
		case key == "Path":
			path = profileDir(base, val)
		case key == "Default" && val == "1":
			isDefault = true
		}
	}
	flush()
	if install != "" {
		return install
	}
	return marked
}

func profileDir(base, val string) string {
	p := filepath.FromSlash(val)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
