package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/chriskillpack/picdesc"
	"github.com/chriskillpack/picdesc/backend"
	"github.com/chriskillpack/picdesc/document"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

const defaultSource = "https://arxiv.org/pdf/2408.09869"

var (
	sourceDoc    = flag.String("source", "", "Document to describe: image, directory, PDF or URL (default $SOURCE_DOCUMENT)")
	envFile      = flag.String("env", ".env", "Path to .env file, ignored if missing")
	dbPath       = flag.String("db", "", "Path to annotation database, descriptions are not persisted if empty")
	concurrency  = flag.Int("concurrency", 4, "Number of pictures described at once")
	skipFailures = flag.Bool("skip-failures", false, "Leave failed pictures undescribed instead of stopping")
	maxDim       = flag.Int("max-dim", 0, "Downscale pictures larger than this many pixels, 0 keeps the original size")
	dpi          = flag.Float64("dpi", 0, "DPI used to render PDF pages, 0 uses the renderer default")
	count        = flag.Int("count", -1, "Number of pictures to process")
	outPath      = flag.String("out", "", "Write the markdown report here instead of stdout")
	verbose      = flag.Bool("v", false, "Verbose logging")

	lameduck atomic.Bool
)

func run(ctx context.Context, a *picdesc.Annotator, source string) error {
	doc, err := document.Load(ctx, source, document.LoadOptions{
		MaxDimension: *maxDim,
		DPI:          *dpi,
	})
	if err != nil {
		return err
	}
	if *count > -1 {
		doc.Pictures = doc.Pictures[:min(len(doc.Pictures), *count)]
	}
	log.Info().Str("source", doc.Source).Int("pictures", len(doc.Pictures)).Msg("document loaded")

	var db *picdesc.DB
	if *dbPath != "" {
		if db, err = picdesc.NewDB(ctx, *dbPath); err != nil {
			return err
		}
		defer db.Close()

		const batchSize = 100
		added, err := db.InsertPictures(ctx, doc.Source, doc.Pictures, batchSize)
		if err != nil {
			return err
		}
		restored, err := db.Restore(ctx, doc)
		if err != nil {
			return err
		}
		log.Info().Int("new", added).Int("restored", restored).Msg("annotation database")
	}

	todo := len(doc.Pictures) - doc.Annotated()
	bar := progressbar.NewOptions(
		todo,
		progressbar.OptionSetDescription("Describing pictures"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)

	policy := picdesc.FailAbort
	if *skipFailures {
		policy = picdesc.FailSkip
	}

	err = a.AnnotateDocument(ctx, doc, picdesc.AnnotateOptions{
		Concurrency: *concurrency,
		OnFailure:   policy,
		Skip: func(p *document.Picture) bool {
			return len(p.Annotations) > 0 || lameduck.Load()
		},
		Done: func(p *document.Picture, ann *picdesc.Annotation, err error) {
			bar.Add(1)
			if db == nil {
				return
			}
			if rerr := recordResult(ctx, db, doc.Source, a.Name(), p, ann, err, time.Now()); rerr != nil {
				log.Error().Err(rerr).Int("picture", p.Index).Msg("annotation database")
			}
		},
	})
	bar.Finish()
	if err != nil {
		return err
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := doc.WriteMarkdown(out); err != nil {
		return err
	}
	printAnnotations(os.Stderr, doc)

	return nil
}

// recordResult stores the outcome of one picture. Pictures abandoned because
// the run was cancelled, by a sibling failure or a hard stop, were never
// really attempted and are left untouched.
func recordResult(ctx context.Context, db *picdesc.DB, source, describerName string, p *document.Picture, ann *picdesc.Annotation, err error, at time.Time) error {
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case err != nil:
		return db.UpdatePictureAttempted(ctx, source, p.Index, describerName, err, at)
	}
	return db.UpdatePicture(ctx, source, p.Index, ann, at)
}

func sighandler(ch chan os.Signal, cancel context.CancelFunc) {
	for {
		<-ch
		if lameduck.Load() {
			// Already in lame duck, hard stop
			log.Warn().Msg("exiting")
			cancel()
			return
		} else {
			log.Warn().Msg("SIGINT received, finishing pictures in flight...")
			lameduck.Store(true)
		}
	}
}

func main() {
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := backend.LoadEnvFile(*envFile); err != nil {
		log.Fatal().Err(err).Str("file", *envFile).Msg("loading env file")
	}

	source := *sourceDoc
	if source == "" {
		source = os.Getenv("SOURCE_DOCUMENT")
	}
	if source == "" {
		source = defaultSource
	}

	a, err := picdesc.Init(picdesc.InitOptions{
		Config: backend.FromEnviron(),
		HttpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: max(*concurrency, 2),
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Logger: log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("picture description backend")
	}
	fmt.Fprintf(os.Stderr, "Picture description backend selected:\n%s\n", a.Options.Summary())

	sigch := make(chan os.Signal, 2)
	signal.Notify(sigch, os.Interrupt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sighandler(sigch, cancel)

	if err := run(ctx, a, source); err != nil {
		log.Fatal().Err(err).Msg("picdesc")
	}
}
