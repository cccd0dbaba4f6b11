package config

// Directory and file names of the default project layout.
const (
	TypeScriptDir        = "typescript"
	TypeScriptOutputFile = "typescript.js"
	TestDir              = "tests"
	TestOutputFile       = "test.js"
	RustDir              = "rust"
	RustOutputSubdir     = "pkg"
	RustDeclarationFile  = "rust.d.ts"
	RustJSFile           = "rust.js"
	RustWasmFile         = "rust_bg.wasm"
	RustFinalWasmFile    = "rust.wasm"
)

// QUnit test assets fetched before the tests are compiled.
const (
	QUnitCSSURL   = "https://code.jquery.com/qunit/qunit-2.11.3.css"
	QUnitJSURL    = "https://code.jquery.com/qunit/qunit-2.11.3.js"
	QUnitTypesURL = "https://raw.githubusercontent.com/DefinitelyTyped/DefinitelyTyped/master/types/qunit/index.d.ts"
)

// Default returns the configuration used when no project file exists: a
// Rust crate compiled to wasm, a TypeScript front end and QUnit tests.
func Default() *Config {
	pkg := RustDir + "/" + RustOutputSubdir + "/"
	return &Config{
		Version: 1,
		Port:    DefaultPort,
		SiteDir: DefaultSiteDir,
		Steps: []Step{
			{
				Name:         "rust-test",
				Description:  "Running Rust tests",
				Command:      "cargo test --color=always",
				Dir:          RustDir,
				Env:          []string{"RUST_BACKTRACE=1"},
				RawHangLimit: "15s", // several crates compile before the first test prints
			},
			{
				Name:        "rust-wasm",
				Description: "Compiling Rust to WASM + JS",
				Command:     "wasm-pack build --target no-modules -- --color=always",
				Dir:         RustDir,
				Copy: []CopyRule{
					{From: pkg + RustDeclarationFile, To: TypeScriptDir + "/" + RustDeclarationFile, FixDeclarations: true},
					{From: pkg + RustJSFile, To: DefaultSiteDir + "/" + RustJSFile},
					{From: pkg + RustWasmFile, To: DefaultSiteDir + "/" + RustFinalWasmFile},
				},
			},
			{
				Name:        "typescript",
				Description: "Compiling TypeScript",
				Command:     "tsc --pretty",
				Dir:         TypeScriptDir,
				Source:      TypeScriptDir,
				Output:      DefaultSiteDir + "/" + TypeScriptOutputFile,
				Copy: []CopyRule{
					{From: DefaultSiteDir + "/typescript.d.ts", To: TestDir + "/typescript.d.ts", Move: true},
				},
			},
			{
				Name:        "qunit",
				Description: "Checking QUnit test files",
				Fetch: []FetchRule{
					{URL: QUnitCSSURL, Dest: DefaultSiteDir + "/qunit-2.11.3.css"},
					{URL: QUnitJSURL, Dest: DefaultSiteDir + "/qunit-2.11.3.js"},
					{URL: QUnitTypesURL, Dest: TestDir + "/qunit.d.ts"},
				},
			},
			{
				Name:        "typescript-tests",
				Description: "Compiling TypeScript tests",
				Command:     "tsc --pretty",
				Dir:         TestDir,
				Source:      TestDir,
				Output:      DefaultSiteDir + "/" + TestOutputFile,
			},
		},
	}
}
