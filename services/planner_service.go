package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "travelflow-backend/errors"
	"travelflow-backend/metrics"
	"travelflow-backend/models"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Provider is a text generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

type RecommendationType string

const (
	RecommendationRestaurants RecommendationType = "restaurants"
	RecommendationAttractions RecommendationType = "attractions"
	RecommendationEvents      RecommendationType = "events"
	RecommendationGeneral     RecommendationType = "general"
)

func ParseRecommendationType(s string) (RecommendationType, bool) {
	switch t := RecommendationType(s); t {
	case RecommendationRestaurants, RecommendationAttractions, RecommendationEvents, RecommendationGeneral:
		return t, true
	case "":
		return RecommendationGeneral, true
	}
	return "", false
}

type PlannerService interface {
	GenerateItinerary(ctx context.Context, destination string, days int, interests []string) (*models.ItineraryPlan, error)
	RefineItinerary(ctx context.Context, current []models.ProposedItem, destination, feedback string, days int) (*models.ItineraryPlan, error)
	Recommendations(ctx context.Context, location string, kind RecommendationType) ([]string, error)
}

type plannerService struct {
	providers []Provider
	timeout   time.Duration
}

// NewPlannerService tries providers in order and uses the first response it
// can parse.
func NewPlannerService(timeout time.Duration, providers ...Provider) PlannerService {
	return &plannerService{providers: providers, timeout: timeout}
}

var errNoJSON = errors.New("no JSON found in response")

// GenerateItinerary never fails once the request is valid. When no provider
// answers usably it returns the placeholder plan with Fallback set.
func (s *plannerService) GenerateItinerary(ctx context.Context, destination string, days int, interests []string) (*models.ItineraryPlan, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, apperrors.MissingRequiredField("destination")
	}
	if days < models.MinTripDays || days > models.MaxTripDays {
		return nil, apperrors.InvalidDays(models.MinTripDays, models.MaxTripDays)
	}

	prompt := buildItineraryPrompt(destination, days, interests)
	plan, err := s.generatePlan(ctx, prompt)
	if err != nil {
		zap.L().Warn("AI itinerary generation failed, using placeholder plan",
			zap.String("destination", destination), zap.Error(err))
		return PlaceholderPlan(destination), nil
	}
	return plan, nil
}

func (s *plannerService) RefineItinerary(ctx context.Context, current []models.ProposedItem, destination, feedback string, days int) (*models.ItineraryPlan, error) {
	destination = strings.TrimSpace(destination)
	feedback = strings.TrimSpace(feedback)
	if current == nil || destination == "" || feedback == "" {
		return nil, apperrors.InvalidRequest("currentItinerary, destination, and feedback are required")
	}
	if days <= 0 {
		days = 3
	}

	currentJSON, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	plan, err := s.generatePlan(ctx, buildRefinePrompt(string(currentJSON), destination, feedback, days))
	if err != nil {
		return nil, apperrors.AIServiceError(err)
	}
	return plan, nil
}

func (s *plannerService) Recommendations(ctx context.Context, location string, kind RecommendationType) ([]string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, apperrors.MissingRequiredField("location")
	}

	text, provider, err := s.generate(ctx, buildRecommendationPrompt(location, kind))
	if err == nil {
		if lines := nonEmptyLines(text); len(lines) > 0 {
			zap.L().Debug("Recommendations generated", zap.String("provider", provider))
			return lines, nil
		}
	}
	zap.L().Warn("AI recommendations failed, using fallback", zap.String("location", location), zap.Error(err))
	return FallbackRecommendations(location), nil
}

func (s *plannerService) generatePlan(ctx context.Context, prompt string) (*models.ItineraryPlan, error) {
	var errs []error
	for _, p := range s.providers {
		text, err := s.call(ctx, p, prompt)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		plan, err := parsePlan(text)
		if err != nil {
			metrics.AIProviderRequestsTotal.WithLabelValues(p.Name(), "unparseable").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		plan.Provider = p.Name()
		return plan, nil
	}
	if len(errs) == 0 {
		return nil, errors.New("no AI provider configured")
	}
	return nil, errors.Join(errs...)
}

func (s *plannerService) generate(ctx context.Context, prompt string) (string, string, error) {
	var errs []error
	for _, p := range s.providers {
		text, err := s.call(ctx, p, prompt)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		return text, p.Name(), nil
	}
	if len(errs) == 0 {
		return "", "", errors.New("no AI provider configured")
	}
	return "", "", errors.Join(errs...)
}

func (s *plannerService) call(ctx context.Context, p Provider, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := p.Generate(callCtx, prompt)
	if err != nil {
		metrics.AIProviderRequestsTotal.WithLabelValues(p.Name(), metrics.ResultFailure).Inc()
		return "", err
	}
	metrics.AIProviderRequestsTotal.WithLabelValues(p.Name(), metrics.ResultSuccess).Inc()
	return text, nil
}

// parsePlan accepts either a plan object or a bare array of items.
func parsePlan(text string) (*models.ItineraryPlan, error) {
	if obj, ok := extractJSON(text, '{', '}'); ok {
		var plan models.ItineraryPlan
		if err := json.Unmarshal([]byte(obj), &plan); err == nil && len(plan.Itinerary) > 0 {
			return normalizePlan(&plan), nil
		}
	}
	if arr, ok := extractJSON(text, '[', ']'); ok {
		var items []models.ProposedItem
		if err := json.Unmarshal([]byte(arr), &items); err != nil {
			return nil, fmt.Errorf("decoding itinerary array: %w", err)
		}
		if len(items) == 0 {
			return nil, errors.New("empty itinerary")
		}
		return normalizePlan(&models.ItineraryPlan{Itinerary: items}), nil
	}
	return nil, errNoJSON
}

func normalizePlan(plan *models.ItineraryPlan) *models.ItineraryPlan {
	if plan.Highlights == nil {
		plan.Highlights = []string{}
	}
	if plan.Tips == nil {
		plan.Tips = []string{}
	}
	for i := range plan.Itinerary {
		if plan.Itinerary[i].Time == "" {
			plan.Itinerary[i].Time = DefaultGeneratedTime
		}
	}
	return plan
}

// extractJSON returns the text from the first left to the last right
// delimiter, inclusive.
func extractJSON(text string, left, right byte) (string, bool) {
	start := strings.IndexByte(text, left)
	end := strings.LastIndexByte(text, right)
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// PlaceholderPlan is the fixed three-day plan offered when no AI provider is
// available.
func PlaceholderPlan(destination string) *models.ItineraryPlan {
	return &models.ItineraryPlan{
		Itinerary: []models.ProposedItem{
			{DayIndex: 0, Time: "10:00", Location: destination + " City Center", Note: "Arrival & city exploration"},
			{DayIndex: 0, Time: "14:00", Location: destination + " Main Square", Note: "Local attractions"},
			{DayIndex: 0, Time: "18:00", Location: destination + " Restaurant District", Note: "Dinner experience"},
			{DayIndex: 1, Time: "09:00", Location: destination + " Historical Sites", Note: "Cultural tour"},
			{DayIndex: 1, Time: "13:00", Location: destination + " Museum", Note: "Art & history"},
			{DayIndex: 1, Time: "17:00", Location: destination + " Parks", Note: "Nature & relaxation"},
			{DayIndex: 2, Time: "10:00", Location: destination + " Markets", Note: "Shopping & local culture"},
			{DayIndex: 2, Time: "14:00", Location: destination + " Scenic Viewpoint", Note: "Photography spot"},
			{DayIndex: 2, Time: "17:00", Location: "Airport Departure", Note: "Departure"},
		},
		Highlights: []string{},
		Tips:       []string{},
		Fallback:   true,
	}
}

func FallbackRecommendations(location string) []string {
	return []string{
		fmt.Sprintf("Here are some suggestions for %s:", location),
		"1. **Local Street Food**: Try the traditional street vendors and night markets",
		"2. **Historical Temples/Shrines**: Visit historic religious sites and cultural landmarks",
		"3. **Modern Shopping Districts**: Explore contemporary shopping areas and local boutiques",
		"Tip: Ask locals for the best hidden gems - they often know the best spots!",
	}
}

func buildItineraryPrompt(destination string, days int, interests []string) string {
	var interestText string
	if len(interests) > 0 {
		interestText = fmt.Sprintf("User interests: %s.\n", strings.Join(interests, ", "))
	}

	return fmt.Sprintf(`You are an expert travel advisor with deep knowledge of world destinations, local culture, famous attractions, renowned restaurants, and local events.

Generate a DETAILED %d-day trip plan for %s.
%s
Return ONLY a valid JSON object (no markdown, no extra text) with this exact structure:
{
  "itinerary": [
    {"dayIndex": 0, "time": "09:00", "location": "Specific Famous Attraction Name", "note": "Why it is worth visiting, duration, typical cost", "category": "attraction|restaurant|event|experience"}
  ],
  "highlights": ["Key attraction 1", "Key attraction 2"],
  "tips": ["Local tip 1", "Local tip 2"]
}

Requirements:
1. Use exact names of real places so they can be found on a map.
2. Include one or two well-known restaurants per day.
3. dayIndex is zero-based and below %d. time is 24-hour HH:MM.
4. Spread locations through the day to avoid backtracking and do not repeat places.

Return ONLY valid JSON, nothing else.`, days, destination, interestText, days)
}

func buildRefinePrompt(currentPlan, destination, feedback string, days int) string {
	return fmt.Sprintf(`You are an expert travel advisor. Given the current itinerary and user feedback, refine the trip plan for %s.

Current Itinerary:
%s

User Feedback/Request: %q

Generate an updated %d-day trip plan incorporating the user's feedback.

Return ONLY a valid JSON object with structure:
{
  "itinerary": [
    {"dayIndex": 0, "time": "HH:MM", "location": "Specific Location Name", "note": "Detailed description", "category": "attraction|restaurant|event|experience"}
  ],
  "highlights": ["Key highlights"],
  "tips": ["Updated tips based on feedback"]
}

Keep the best parts of the original plan and respect the %d-day timeframe.

Return ONLY valid JSON, nothing else.`, destination, currentPlan, feedback, days, days)
}

func buildRecommendationPrompt(location string, kind RecommendationType) string {
	switch kind {
	case RecommendationRestaurants:
		return fmt.Sprintf("List 5 of the most famous, highly-rated, and must-visit restaurants in %s. Include cuisine type and why they're renowned. Return as a simple numbered list.", location)
	case RecommendationAttractions:
		return fmt.Sprintf("List 5 of the most famous and iconic attractions in %s with brief descriptions of what makes them special. Return as a simple numbered list.", location)
	case RecommendationEvents:
		return fmt.Sprintf("List major events, festivals, and special happenings in %s throughout the year. Include seasons and why they're notable. Return as a simple numbered list.", location)
	default:
		return fmt.Sprintf("Provide 5 insider tips and recommendations for visiting %s, including hidden gems, best neighborhoods, and local experiences. Return as a simple numbered list.", location)
	}
}

type geminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (Provider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &geminiProvider{client: client, model: model}, nil
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	model := p.client.GenerativeModel(p.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("empty response from gemini")
	}
	return sb.String(), nil
}

type huggingFaceProvider struct {
	httpClient *http.Client
	apiKey     string
	modelURL   string
}

func NewHuggingFaceProvider(apiKey, modelURL string) Provider {
	return &huggingFaceProvider{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		modelURL:   modelURL,
	}
}

func (p *huggingFaceProvider) Name() string { return "huggingface" }

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
}

func (p *huggingFaceProvider) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(hfRequest{
		Inputs:     prompt,
		Parameters: hfParameters{MaxNewTokens: 500, Temperature: 0.7, TopP: 0.9},
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.modelURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("huggingface returned status %d: %s", resp.StatusCode, string(msg))
	}

	var generations []hfGeneration
	if err := json.NewDecoder(resp.Body).Decode(&generations); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(generations) == 0 {
		return "", errors.New("empty response from huggingface")
	}
	// Text generation models echo the prompt ahead of the completion.
	text := strings.TrimPrefix(generations[0].GeneratedText, prompt)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty response from huggingface")
	}
	return text, nil
}
