package runtime

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	deadlock "github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/singleflight"

	"github.com/zephyrtronium/prask/internal/ast"
	"github.com/zephyrtronium/prask/internal/jit"
)

// zstdMagic is the zstd frame magic number (little-endian), used to
// detect a compressed .pck payload (SPEC_FULL.md's DOMAIN STACK entry:
// "compression codec for embedded/compiled .pck core-script payloads,
// replacing the teacher's compress/zlib... with the pack's faster
// codec for the same 'decompress embedded core source at boot'
// concern").
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// compiledModule is one loaded, compiled, and already-run module: its
// Define statements have executed (populating the shared Globals table)
// by the time load returns, since anything importing it must see those
// bindings (spec.md §6 "import").
type compiledModule struct {
	path string
	body jit.Closure
}

// Modules is the module cache and loader (spec.md §6 "Module
// resolution"). It owns the single process-wide Globals table: all
// modules compiled by one Modules instance share one flat global
// namespace, so `import` simply establishes a load-before-use ordering
// rather than namespacing bindings per module (spec.md's ast.Global
// node carries no module-qualified name).
type Modules struct {
	Compiler *jit.Compiler

	// Runner executes a freshly compiled module body to completion on a
	// fresh fiber, returning any unhandled error (spec.md §7 "if an
	// unhandled error reaches the top frame of a fiber..."). Set by
	// Runtime, which alone owns fiber/collector construction; Modules
	// itself stays free of a dependency on internal/fiber or
	// internal/gc.
	Runner func(jit.Closure) error

	mu      deadlock.Mutex
	loaded  map[string]*compiledModule
	loading map[string]bool // cycle detection, guarded by mu

	group singleflight.Group // collapses concurrent first-loaders of the same path
}

// NewModules creates an empty module cache bound to compiler. Callers
// must set Runner before the first Load.
func NewModules(compiler *jit.Compiler) *Modules {
	return &Modules{
		Compiler: compiler,
		loaded:   make(map[string]*compiledModule),
		loading:  make(map[string]bool),
	}
}

// Load reads, decodes, and compiles the .pck file at path, recursively
// loading and running its imports first (spec.md §6 "Module
// resolution"). Concurrent first-loaders of the same path collapse into
// one load via singleflight (SPEC_FULL.md's DOMAIN STACK entry for
// golang.org/x/sync/singleflight, adapted from a per-function compile
// lock to a per-module one: this compiler emits a module's entire
// closure tree in one eager pass, C7, rather than lazily per function,
// so module load is the natural granularity for collapsing concurrent
// compiles here).
func (m *Modules) Load(path string) (jit.Closure, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ErrIO(err)
	}
	v, err, _ := m.group.Do(abs, func() (interface{}, error) {
		return m.load(abs)
	})
	if err != nil {
		return nil, err
	}
	return v.(*compiledModule).body, nil
}

func (m *Modules) load(abs string) (*compiledModule, error) {
	m.mu.Lock()
	if cm, ok := m.loaded[abs]; ok {
		m.mu.Unlock()
		return cm, nil
	}
	if m.loading[abs] {
		m.mu.Unlock()
		return nil, structuralf("import cycle at %s", abs)
	}
	m.loading[abs] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.loading, abs)
		m.mu.Unlock()
	}()

	n, err := decodeModuleFile(abs)
	if err != nil {
		return nil, err
	}

	for _, imp := range n.Imports {
		depPath := resolveImportPath(abs, imp.From)
		if _, err := m.Load(depPath); err != nil {
			return nil, fmt.Errorf("importing %s: %w", depPath, err)
		}
	}

	body, err := m.Compiler.CompileModule(n)
	if err != nil {
		return nil, structuralf("compiling %s: %v", abs, err)
	}
	if m.Runner != nil {
		if err := m.Runner(body); err != nil {
			return nil, err
		}
	}
	cm := &compiledModule{path: abs, body: body}

	m.mu.Lock()
	m.loaded[abs] = cm
	m.mu.Unlock()
	return cm, nil
}

// resolveImportPath joins an import's source-relative module path
// against the importing file's directory, appending the .pck extension
// if the import names only the bare module (spec.md §6 "given a source
// path X.prk, the loader expects X.pck").
func resolveImportPath(fromFile, importPath string) string {
	if filepath.Ext(importPath) == "" {
		importPath += ".pck"
	} else if strings.HasSuffix(importPath, ".prk") {
		importPath = strings.TrimSuffix(importPath, ".prk") + ".pck"
	}
	if filepath.IsAbs(importPath) {
		return importPath
	}
	return filepath.Join(filepath.Dir(fromFile), importPath)
}

// decodeModuleFile reads a .pck file, transparently decompressing a
// zstd-framed payload (detected by magic number) before handing the raw
// tag/value bytes to ast.NewDecoder (spec.md §6 "AST file format").
func decodeModuleFile(path string) (*ast.Node, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, ErrIO(err)
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		dec, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, ErrIO(err)
		}
		defer dec.Close()
		raw, err = dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, ErrIO(err)
		}
	}
	n, err := ast.NewDecoder(bytes.NewReader(raw)).DecodeModule()
	if err != nil {
		return nil, structuralf("decoding %s: %v", path, err)
	}
	return n, nil
}

// statModuleIsStale reports whether source is newer than compiled,
// i.e. the compiled .pck is out of date (spec.md §6: "If missing or
// older than the source, the loader invokes the bootstrap compiler").
// The bootstrap compiler itself is an out-of-core-scope user-level
// module (spec.md §1), so this runtime only detects staleness and
// surfaces a clear error instead of invoking it.
func statModuleIsStale(source, compiled string) (bool, error) {
	srcInfo, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, ErrIO(err)
	}
	dstInfo, err := os.Stat(compiled)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, ErrIO(err)
	}
	return srcInfo.ModTime().After(dstInfo.ModTime()), nil
}
