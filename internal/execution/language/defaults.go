package language

// DefaultSpecs returns the built-in languages.
func DefaultSpecs() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:            "python",
			Name:          "Python 3",
			Aliases:       []string{"py", "python3"},
			SourceFile:    "main.py",
			RunCmd:        "python3 -u {src}",
			Env:           []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"},
			Installer:     InstallerPip,
			OOMMarkers:    []string{"MemoryError"},
			RequiredTools: []string{"python3"},
		},
		{
			ID:            "javascript",
			Name:          "JavaScript (Node.js)",
			Aliases:       []string{"js", "node"},
			SourceFile:    "main.js",
			RunCmd:        "node {src}",
			Installer:     InstallerNpm,
			OOMMarkers:    []string{"JavaScript heap out of memory"},
			RequiredTools: []string{"node", "npm"},
		},
		{
			ID:         "typescript",
			Name:       "TypeScript",
			Aliases:    []string{"ts"},
			SourceFile: "main.ts",
			CompileCmd: "tsc -p tsconfig.json",
			RunCmd:     "node dist/main.js",
			Installer:  InstallerNpm,
			Files: map[string]string{
				"tsconfig.json": `{
  "compilerOptions": {
    "target": "es2020",
    "module": "commonjs",
    "outDir": "dist",
    "esModuleInterop": true,
    "skipLibCheck": true,
    "strict": false
  },
  "files": ["main.ts"]
}
`,
			},
			OOMMarkers:    []string{"JavaScript heap out of memory"},
			RequiredTools: []string{"node", "npm", "tsc"},
		},
		{
			ID:            "go",
			Name:          "Go",
			Aliases:       []string{"golang"},
			SourceFile:    "main.go",
			CompileCmd:    "go build -p 2 -o {bin} .",
			RunCmd:        "./{bin}",
			Installer:     InstallerGoMod,
			OOMMarkers:    []string{"runtime: out of memory"},
			RequiredTools: []string{"go"},
		},
		{
			ID:            "rust",
			Name:          "Rust",
			Aliases:       []string{"rs"},
			SourceFile:    "main.rs",
			CompileCmd:    "cargo build --release --offline --quiet",
			RunCmd:        "./target/release/{bin}",
			PassEnv:       []string{"RUSTUP_HOME", "RUSTUP_TOOLCHAIN"},
			Installer:     InstallerCargo,
			OOMMarkers:    []string{"memory allocation of"},
			RequiredTools: []string{"cargo", "rustc"},
		},
		{
			ID:            "cpp",
			Name:          "C++17",
			Aliases:       []string{"c++"},
			SourceFile:    "main.cpp",
			CompileCmd:    "g++ -O2 -std=c++17 -o {bin} {src}",
			RunCmd:        "./{bin}",
			OOMMarkers:    []string{"std::bad_alloc"},
			RequiredTools: []string{"g++"},
		},
		{
			ID:            "java",
			Name:          "Java",
			SourceFile:    "Main.java",
			CompileCmd:    "javac -d build {src}",
			RunCmd:        "java -Xss64m -cp build Main",
			OOMMarkers:    []string{"OutOfMemoryError"},
			RequiredTools: []string{"javac", "java"},
		},
		{
			ID:            "php",
			Name:          "PHP",
			SourceFile:    "main.php",
			RunCmd:        "php {src}",
			OOMMarkers:    []string{"Allowed memory size"},
			RequiredTools: []string{"php"},
		},
		{
			ID:            "bash",
			Name:          "Bash",
			Aliases:       []string{"sh", "shell"},
			SourceFile:    "main.sh",
			RunCmd:        "bash {src}",
			RequiredTools: []string{"bash"},
		},
	}
}
