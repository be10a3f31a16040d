package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/draftgate/draftgate/graph"
	"github.com/draftgate/draftgate/publish"
	"github.com/draftgate/draftgate/scrape"
)

const (
	nodeIngest          = "ingest"
	nodeScrape          = "scrape"
	nodeAnalyze         = "analyze"
	nodeGenerate        = "generate"
	nodeSelectImage     = "selectImage"
	nodeAwaitHuman      = "awaitHuman"
	nodeCheckAuth       = "checkAuth"
	nodeUploadImage     = "uploadImage"
	nodePublishTwitter  = "publishTwitter"
	nodePublishLinkedin = "publishLinkedin"
)

func (o *Orchestrator) buildGraph() (*graph.Runnable[*State], error) {
	g := graph.NewStateGraph[*State]()

	g.AddNode(nodeIngest, "Validate and record the input", o.ingestNode)
	g.AddNode(nodeScrape, "Fetch and extract the article", o.scrapeNode)
	g.AddNode(nodeAnalyze, "Score the article for posting", o.analyzeNode)
	g.AddNode(nodeGenerate, "Draft per-platform posts", o.generateNode)
	g.AddNode(nodeSelectImage, "Pick and download an article image", o.selectImageNode)
	g.AddNode(nodeAwaitHuman, "Suspend for human review", o.awaitHumanNode)
	g.AddNode(nodeCheckAuth, "Verify platform connections", o.checkAuthNode)
	g.AddNode(nodeUploadImage, "Upload the approved image per platform", o.uploadImageNode)
	g.AddNode(nodePublishTwitter, "Publish the twitter draft", o.publishNodeFor(publish.PlatformTwitter))
	g.AddNode(nodePublishLinkedin, "Publish the linkedin draft", o.publishNodeFor(publish.PlatformLinkedIn))

	g.SetEntryPoint(nodeIngest)
	g.AddEdge(nodeIngest, nodeScrape)
	g.AddConditionalEdge(nodeScrape, endOr(nodeAnalyze))
	g.AddConditionalEdge(nodeAnalyze, endOr(nodeGenerate))
	g.AddEdge(nodeGenerate, nodeSelectImage)
	g.AddEdge(nodeSelectImage, nodeAwaitHuman)
	g.AddConditionalEdge(nodeAwaitHuman, o.afterReview)
	g.AddConditionalEdge(nodeCheckAuth, o.afterCheckAuth)
	g.AddEdge(nodeUploadImage, nodePublishTwitter)
	g.AddEdge(nodePublishTwitter, nodePublishLinkedin)
	g.AddEdge(nodePublishLinkedin, graph.END)

	return g.Compile()
}

// endOr routes to END once the state is terminated, else to the next node.
func endOr(next string) func(ctx context.Context, state *State) string {
	return func(ctx context.Context, state *State) string {
		if state.Terminated {
			return graph.END
		}
		return next
	}
}

func (o *Orchestrator) afterReview(ctx context.Context, state *State) string {
	switch {
	case state.Terminated:
		return graph.END
	case len(state.RegenerateTargets) > 0:
		return nodeGenerate
	default:
		return nodeCheckAuth
	}
}

func (o *Orchestrator) afterCheckAuth(ctx context.Context, state *State) string {
	switch {
	case state.Terminated:
		return graph.END
	case state.Image != nil:
		return nodeUploadImage
	default:
		return nodePublishTwitter
	}
}

func (o *Orchestrator) ingestNode(ctx context.Context, state *State) (*State, error) {
	if state.Drafts == nil {
		state.Drafts = make(map[publish.Platform]string)
	}
	o.logger.Debug("execution %s: starting pipeline for %s", state.ExecutionID, state.URL)
	return state, nil
}

func (o *Orchestrator) scrapeNode(ctx context.Context, state *State) (*State, error) {
	content, err := o.scraper.Scrape(ctx, state.URL)
	if err != nil {
		return nil, err
	}
	state.Scraped = content

	if utf8.RuneCountInString(content.Text) < o.minContentLength {
		o.logger.Info("execution %s: content too short, terminating", state.ExecutionID)
		state.terminate(ReasonContentTooShort)
	}
	return state, nil
}

func (o *Orchestrator) analyzeNode(ctx context.Context, state *State) (*State, error) {
	analysis, err := o.generator.Analyze(ctx, state.Scraped)
	if err != nil {
		return nil, err
	}
	state.Analysis = analysis

	if analysis.Relevance < o.minRelevance {
		o.logger.Info("execution %s: relevance %.2f below threshold, terminating",
			state.ExecutionID, analysis.Relevance)
		state.terminate(ReasonLowRelevance)
	}
	return state, nil
}

func (o *Orchestrator) generateNode(ctx context.Context, state *State) (*State, error) {
	targets := state.RegenerateTargets
	if len(targets) == 0 {
		targets = []publish.Platform{publish.PlatformTwitter, publish.PlatformLinkedIn}
	}

	for _, platform := range targets {
		draft, err := o.generator.Draft(ctx, string(platform), state.Scraped, state.Analysis, state.RegenerateHint)
		if err != nil {
			return nil, err
		}
		state.Drafts[platform] = draft
	}

	state.RegenerateTargets = nil
	state.RegenerateHint = ""
	return state, nil
}

// selectImageNode picks the best downloadable image candidate. Finding
// none is not an error; the review simply proceeds without an image.
func (o *Orchestrator) selectImageNode(ctx context.Context, state *State) (*State, error) {
	if state.ImageChecked {
		return state, nil
	}
	state.ImageChecked = true

	for _, candidate := range orderImageCandidates(state.Scraped) {
		data, err := o.fetcher.Fetch(ctx, candidate.Src, state.URL)
		if err != nil {
			o.logger.Debug("execution %s: image candidate %s failed: %v", state.ExecutionID, candidate.Src, err)
			continue
		}
		caption := candidate.Alt
		if caption == "" {
			caption = state.Scraped.Title
		}
		state.Image = &ImageSelection{
			SourceURL: candidate.Src,
			Caption:   caption,
			Base64:    base64.StdEncoding.EncodeToString(data),
		}
		return state, nil
	}
	return state, nil
}

// orderImageCandidates ranks the scraped images: the page's own og:image
// or twitter:image first, then same-host images, then by declared area.
// Unusable URLs (relative without a resolvable base, localhost, non-http)
// are dropped.
func orderImageCandidates(content *scrape.Content) []scrape.Image {
	if content == nil {
		return nil
	}

	base, err := url.Parse(content.URL)
	if err != nil {
		base = nil
	}

	featured := make(map[string]bool)
	for _, key := range []string{"og:image", "twitter:image"} {
		if v := content.Metadata[key]; v != "" {
			featured[v] = true
		}
	}

	type ranked struct {
		img      scrape.Image
		feature  bool
		sameHost bool
		area     int
	}

	var candidates []ranked
	seen := make(map[string]bool)
	for _, img := range content.Images {
		resolved, ok := resolveImageURL(base, img.Src)
		if !ok || seen[resolved] {
			continue
		}
		seen[resolved] = true

		r := ranked{img: img, area: img.Width * img.Height}
		r.feature = featured[img.Src] || featured[resolved]
		r.img.Src = resolved
		if base != nil {
			if u, err := url.Parse(resolved); err == nil {
				r.sameHost = strings.EqualFold(u.Host, base.Host)
			}
		}
		candidates = append(candidates, r)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.feature != b.feature {
			return a.feature
		}
		if a.sameHost != b.sameHost {
			return a.sameHost
		}
		return a.area > b.area
	})

	out := make([]scrape.Image, len(candidates))
	for i, c := range candidates {
		out[i] = c.img
	}
	return out
}

// resolveImageURL resolves a possibly relative src against the article
// URL and filters out schemes and hosts that cannot be downloaded.
func resolveImageURL(base *url.URL, src string) (string, bool) {
	parsed, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" || host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "", false
	}
	return parsed.String(), true
}

func (o *Orchestrator) awaitHumanNode(ctx context.Context, state *State) (*State, error) {
	value, err := graph.Interrupt(ctx, state.reviewPayload())
	if err != nil {
		return state, err
	}

	action, ok := value.(*ReviewAction)
	if !ok {
		return nil, ErrActionMismatch
	}

	switch {
	case action.Reject:
		state.Review = &ReviewRecord{Feedback: action.Feedback, DecidedAt: o.now().UTC()}
		state.terminate(ReasonRejected)

	case len(action.Regenerate) > 0:
		state.RegenerateTargets = action.Regenerate
		state.RegenerateHint = action.Feedback
		state.Feedback = ""

	case action.ApproveContent:
		for platform, text := range action.EditedText {
			if text != "" {
				state.Drafts[platform] = text
			}
		}
		if len(action.ConnectionIDs) > 0 {
			state.Connections = action.ConnectionIDs
		}
		if !action.ApproveImage {
			state.Image = nil
		}
		state.Review = &ReviewRecord{
			ImageApproved: action.ApproveImage && state.Image != nil,
			Feedback:      action.Feedback,
			DecidedAt:     o.now().UTC(),
		}

	default:
		// Feedback without a decision: record it and suspend again with
		// the note echoed back to the reviewer.
		state.Feedback = action.Feedback
		_, err := graph.Interrupt(ctx, state.reviewPayload())
		return state, err
	}
	return state, nil
}

// checkAuthNode verifies a usable connection exists per draft platform.
// On the first failure it suspends; after a reauth resume a still-broken
// connection terminates the execution instead of suspending forever.
func (o *Orchestrator) checkAuthNode(ctx context.Context, state *State) (*State, error) {
	resumed := false
	if value := graph.TakeResumeValue(ctx); value != nil {
		if _, ok := value.(*ReauthAction); !ok {
			return nil, ErrActionMismatch
		}
		resumed = true
	}

	var broken []publish.Platform
	for _, platform := range state.platforms() {
		conn, err := o.gateway.ResolveConnection(ctx, state.UserID, platform, state.Connections[platform])
		switch {
		case errors.Is(err, publish.ErrNoConnection):
			broken = append(broken, platform)
		case err != nil:
			return nil, err
		case conn.Expired(o.now()) && conn.Credential.RefreshToken == "":
			// Expired with a refresh token is fine: the gateway refreshes
			// on the first rejected call.
			broken = append(broken, platform)
		}
	}

	if len(broken) == 0 {
		return state, nil
	}
	if resumed {
		o.logger.Info("execution %s: connections still unusable after reauth: %v", state.ExecutionID, broken)
		state.terminate(ReasonAuthExpired)
		return state, nil
	}
	return state, &graph.NodeInterrupt{Value: &ReauthPayload{
		ExecutionID: state.ExecutionID,
		Platforms:   broken,
	}}
}

// uploadImageNode uploads the approved image per platform. Upload failure
// is recorded and the platform publishes without the image.
func (o *Orchestrator) uploadImageNode(ctx context.Context, state *State) (*State, error) {
	if state.Image == nil {
		return state, nil
	}

	for _, platform := range state.platforms() {
		result := o.gateway.Upload(ctx, publish.UploadInput{
			Platform:     platform,
			MediaBase64:  state.Image.Base64,
			UserID:       state.UserID,
			ConnectionID: state.Connections[platform],
			SourceURL:    state.Image.SourceURL,
		})
		if result.Error != "" {
			if state.UploadErrors == nil {
				state.UploadErrors = make(map[publish.Platform]string)
			}
			state.UploadErrors[platform] = result.Error
			o.logger.Warn("execution %s: image upload to %s failed: %s", state.ExecutionID, platform, result.Error)
			continue
		}
		if state.MediaIDs == nil {
			state.MediaIDs = make(map[publish.Platform]string)
		}
		state.MediaIDs[platform] = result.MediaID
	}
	return state, nil
}

// publishNodeFor builds the publish node for one platform. Failures are
// recorded per platform and never abort the sibling publish.
func (o *Orchestrator) publishNodeFor(platform publish.Platform) func(ctx context.Context, state *State) (*State, error) {
	return func(ctx context.Context, state *State) (*State, error) {
		draft, ok := state.Drafts[platform]
		if !ok || draft == "" {
			return state, nil
		}

		result := o.gateway.Publish(ctx, publish.PublishInput{
			Platform:     platform,
			Text:         draft,
			UserID:       state.UserID,
			ConnectionID: state.Connections[platform],
			MediaID:      state.MediaIDs[platform],
		})
		if state.PublishResults == nil {
			state.PublishResults = make(map[publish.Platform]publish.PublishResult)
		}
		state.PublishResults[platform] = result
		return state, nil
	}
}
