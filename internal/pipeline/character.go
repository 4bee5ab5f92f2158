package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/nested-progress/internal/hash/sha256"
	"github.com/JakeFAU/nested-progress/internal/progress"
	"github.com/JakeFAU/nested-progress/internal/storage"
)

// CharacterRunName labels character build runs in events and the repository.
const CharacterRunName = "character-build"

// Races accepted by CharacterOptions.Race.
var Races = []string{"caucasian", "african", "asian"}

// Proxy types accepted by AddProxy.
const (
	ProxyMeshes = "proxymeshes"
	ProxyHair   = "hair"
)

// Macro modifiers applied to every character, in order.
var Macros = []string{"Age", "Gender", "Caucasian", "African", "Asian"}

const (
	lowResProxy = "data/proxymeshes/proxy741/proxy741.proxy"
	raceWeight  = 0.9
)

// ErrUnsupportedExport is returned when the output is not an .mhx file.
var ErrUnsupportedExport = errors.New("only MHX export is currently supported")

// CharacterOptions mirror the headless command-line arguments.
type CharacterOptions struct {
	// Age in years, 1 to 90.
	Age float64
	// Gender from 0 (female) to 1 (male).
	Gender float64
	// Race is one of Races.
	Race string
	// Rig names a preset under data/rigs; empty builds no skeleton.
	Rig string
	// Hair names a proxy under data/hair; empty adds no hair.
	Hair string
	// LowRes replaces the mesh with the low resolution proxy.
	LowRes bool
	// Output is the export path; it must end in .mhx.
	Output string
}

// Validate checks the options before any work starts.
func (o CharacterOptions) Validate() error {
	if o.Age < 1 || o.Age > 90 {
		return fmt.Errorf("age %v outside [1,90]", o.Age)
	}
	if o.Gender < 0 || o.Gender > 1 {
		return fmt.Errorf("gender %v outside [0,1]", o.Gender)
	}
	if !isRace(o.Race) {
		return fmt.Errorf("unknown race %s. Must be one of [%s]", o.Race, strings.Join(Races, ", "))
	}
	for _, name := range []string{o.Rig, o.Hair} {
		if strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("invalid asset name %q", name)
		}
	}
	if !strings.HasSuffix(strings.ToLower(o.Output), ".mhx") {
		return fmt.Errorf("%w: %q", ErrUnsupportedExport, o.Output)
	}
	return nil
}

func isRace(race string) bool {
	for _, r := range Races {
		if r == race {
			return true
		}
	}
	return false
}

// DominantGender returns "female" below 0.5 and "male" otherwise.
func (o CharacterOptions) DominantGender() string {
	if o.Gender < 0.5 {
		return "female"
	}
	return "male"
}

// SkinPath returns the material file matching race and dominant gender.
func (o CharacterOptions) SkinPath() string {
	g := o.DominantGender()
	return fmt.Sprintf("data/skins/young_%s_%s/young_%s_%s.mhmat", o.Race, g, o.Race, g)
}

// AgeValue maps years onto the age modifier: 1..25 years cover [0,0.5] and
// 25..90 years cover [0.5,1].
func AgeValue(years float64) float64 {
	if years < 25 {
		return (years - 1) / (25 - 1) * 0.5
	}
	return 0.5 + (years-25)/(90-25)*0.5
}

// Proxy is a fitted proxy asset.
type Proxy struct {
	Type string
	File string
}

// Character is the result of a build.
type Character struct {
	Macros   map[string]float64
	Targets  int
	Skin     string
	Rig      string
	Bones    int
	Proxies  []Proxy
	Location string
	// Checksum is the hex digest of the exported file.
	Checksum string
}

// WorkFunc simulates the cost of one unit of stage work. It may block and
// should honor ctx.
type WorkFunc func(ctx context.Context, stage string, unit int) error

// CharacterBuild builds one character headlessly.
type CharacterBuild struct {
	Options CharacterOptions
	// Output receives the exported file.
	Output storage.BlobStore
	// TargetsPerMacro is the number of target files each macro modifier loads.
	TargetsPerMacro int
	// Interval is the high-frequency interval of the target loop.
	Interval int
	// Logging and Timing are set on the root scope.
	Logging bool
	Timing  bool
	// Work runs once per unit of work; nil does nothing.
	Work WorkFunc

	char Character
}

// Run validates the options and executes the stages, returning the built
// character.
func (b *CharacterBuild) Run(ctx context.Context) (Character, error) {
	if err := b.Options.Validate(); err != nil {
		return Character{}, err
	}
	if b.Output == nil {
		return Character{}, fmt.Errorf("character build: output store is required")
	}
	if b.TargetsPerMacro <= 0 {
		b.TargetsPerMacro = 20
	}
	if b.Interval <= 0 {
		b.Interval = 10
	}
	b.char = Character{Macros: make(map[string]float64, len(Macros))}

	var opts []progress.Option
	if b.Logging {
		opts = append(opts, progress.WithLogging())
	}
	if b.Timing {
		opts = append(opts, progress.WithTiming())
	}
	if err := RunStages(ctx, b.Stages(), opts...); err != nil {
		return Character{}, err
	}
	return b.char, nil
}

// Result returns the character of the last successful Run.
func (b *CharacterBuild) Result() Character {
	return b.char
}

// Job adapts the build to a Runner.
func (b *CharacterBuild) Job() Job {
	return func(ctx context.Context) error {
		_, err := b.Run(ctx)
		return err
	}
}

// Stages lists the build stages for the current options. Optional stages are
// left out so they carry no weight.
func (b *CharacterBuild) Stages() []Stage {
	stages := []Stage{
		{Name: "base mesh", Weight: 1, Run: b.loadMesh},
		{Name: "modifiers", Weight: 3, Run: b.applyModifiers},
		{Name: "skin", Weight: 1, Run: b.loadSkin},
	}
	if b.Options.Rig != "" {
		stages = append(stages, Stage{Name: "skeleton", Weight: 2, Run: b.buildSkeleton})
	}
	if b.Options.Hair != "" || b.Options.LowRes {
		stages = append(stages, Stage{Name: "proxies", Weight: 2, Run: b.fitProxies})
	}
	return append(stages, Stage{Name: "export", Weight: 1, Run: b.export})
}

func (b *CharacterBuild) work(ctx context.Context, stage string, unit int) error {
	if b.Work == nil {
		return ctx.Err()
	}
	return b.Work(ctx, stage, unit)
}

func (b *CharacterBuild) loadMesh(ctx context.Context) error {
	scope, err := progress.New(ctx, progress.WithSteps(progress.Weighted(3, 1)))
	if err != nil {
		return err
	}
	if err := b.work(ctx, "base mesh", 0); err != nil {
		return err
	}
	if err := scope.Step(progress.Describe("loading base mesh")); err != nil {
		return err
	}
	if err := b.work(ctx, "base mesh", 1); err != nil {
		return err
	}
	return scope.Step(progress.Describe("computing normals"))
}

func (b *CharacterBuild) applyModifiers(ctx context.Context) error {
	scope, err := progress.New(ctx, progress.WithSteps(progress.Count(len(Macros))))
	if err != nil {
		return err
	}
	values := b.macroValues()
	for _, macro := range Macros {
		if err := b.loadTargets(ctx, macro); err != nil {
			return err
		}
		b.char.Macros[macro] = values[macro]
		if err := scope.Step(progress.Describe("macro %s = %.4f", macro, values[macro])); err != nil {
			return err
		}
	}
	return nil
}

// loadTargets reads the macro's target files in a tight loop; only every
// Interval-th file reaches the sink.
func (b *CharacterBuild) loadTargets(ctx context.Context, macro string) error {
	scope, err := progress.New(ctx, progress.WithSteps(progress.Count(b.TargetsPerMacro)))
	if err != nil {
		return err
	}
	hf, err := scope.HighFrequency(b.Interval)
	if err != nil {
		return err
	}
	for i := 0; i < b.TargetsPerMacro; i++ {
		if err := b.work(ctx, "modifiers", i); err != nil {
			return err
		}
		b.char.Targets++
		if err := hf.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (b *CharacterBuild) macroValues() map[string]float64 {
	values := map[string]float64{
		"Age":    AgeValue(b.Options.Age),
		"Gender": b.Options.Gender,
	}
	rest := (1 - raceWeight) / float64(len(Races)-1)
	for _, race := range Races {
		v := rest
		if race == b.Options.Race {
			v = raceWeight
		}
		values[strings.ToUpper(race[:1])+race[1:]] = v
	}
	return values
}

func (b *CharacterBuild) loadSkin(ctx context.Context) error {
	scope, err := progress.New(ctx)
	if err != nil {
		return err
	}
	skin := b.Options.SkinPath()
	if err := scope.Report(0, progress.Describe("loading skin %s", skin)); err != nil {
		return err
	}
	if err := b.work(ctx, "skin", 0); err != nil {
		return err
	}
	b.char.Skin = skin
	return scope.Report(1, progress.Keep())
}

func (b *CharacterBuild) buildSkeleton(ctx context.Context) error {
	scope, err := progress.New(ctx, progress.WithSteps(progress.Weighted(1, 4)))
	if err != nil {
		return err
	}
	preset := fmt.Sprintf("data/rigs/%s.json", b.Options.Rig)
	if err := b.work(ctx, "skeleton", 0); err != nil {
		return err
	}
	if err := scope.Step(progress.Describe("loaded rig preset %s", preset)); err != nil {
		return err
	}
	if err := b.work(ctx, "skeleton", 1); err != nil {
		return err
	}
	b.char.Rig = b.Options.Rig
	b.char.Bones = 163
	return scope.Step(progress.Describe("computed bone weights"))
}

func (b *CharacterBuild) fitProxies(ctx context.Context) error {
	var (
		weights []float64
		proxies []Proxy
	)
	if b.Options.Hair != "" {
		weights = append(weights, 1)
		proxies = append(proxies, Proxy{Type: ProxyHair, File: fmt.Sprintf("data/hair/%s.mhclo", b.Options.Hair)})
	}
	if b.Options.LowRes {
		weights = append(weights, 2)
		proxies = append(proxies, Proxy{Type: ProxyMeshes, File: lowResProxy})
	}
	scope, err := progress.New(ctx, progress.WithSteps(progress.Weighted(weights...)))
	if err != nil {
		return err
	}
	for i, p := range proxies {
		fitted, err := AddProxy(p.File, p.Type)
		if err != nil {
			return err
		}
		if err := b.work(ctx, "proxies", i); err != nil {
			return err
		}
		b.char.Proxies = append(b.char.Proxies, fitted)
		if err := scope.Step(progress.Describe("fitted %s proxy", p.Type)); err != nil {
			return err
		}
	}
	return nil
}

// AddProxy checks the proxy type and returns the fitted proxy.
func AddProxy(file, kind string) (Proxy, error) {
	if kind != ProxyMeshes && kind != ProxyHair {
		return Proxy{}, fmt.Errorf("unknown proxy type %s", kind)
	}
	return Proxy{Type: kind, File: file}, nil
}

func (b *CharacterBuild) export(ctx context.Context) error {
	scope, err := progress.New(ctx, progress.WithSteps(progress.Count(3)))
	if err != nil {
		return err
	}
	var body bytes.Buffer
	fmt.Fprintf(&body, "# MHX export %s\n", path.Base(b.Options.Output))
	if err := scope.Step(progress.Describe("writing header")); err != nil {
		return err
	}
	for _, macro := range Macros {
		fmt.Fprintf(&body, "macro %s %.4f\n", macro, b.char.Macros[macro])
	}
	fmt.Fprintf(&body, "skin %s\n", b.char.Skin)
	if b.char.Rig != "" {
		fmt.Fprintf(&body, "rig %s %d\n", b.char.Rig, b.char.Bones)
	}
	for _, p := range b.char.Proxies {
		fmt.Fprintf(&body, "proxy %s %s\n", p.Type, p.File)
	}
	body.WriteString("end\n")
	if err := scope.Step(progress.Describe("writing character")); err != nil {
		return err
	}
	if err := b.work(ctx, "export", 0); err != nil {
		return err
	}
	size := int64(body.Len())
	digest := sha256.NewReader(&body)
	uri, err := b.Output.PutObject(ctx, b.Options.Output, "text/plain; charset=utf-8", digest)
	if err != nil {
		return fmt.Errorf("export %s: %w", b.Options.Output, err)
	}
	if digest.Size() != size {
		return fmt.Errorf("checksum %s: upload read %d of %d bytes", b.Options.Output, digest.Size(), size)
	}
	b.char.Location = uri
	b.char.Checksum = digest.Sum()
	return scope.Step(progress.Describe("exported %s", uri))
}
