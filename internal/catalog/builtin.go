package catalog

var (
	textExts     = []string{".txt", ".md", ".json", ".csv", ".log", ".yaml", ".yml", ".xml", ".html"}
	documentExts = []string{".pdf", ".docx", ".rtf", ".odt"}
	imageExts    = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}
	audioExts    = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg"}
)

const hf = "https://huggingface.co/"

// builtinModels is the model phonebook shipped with the binary. Sizes are
// the published file sizes and drive the 5% completeness tolerance.
var builtinModels = []ModelDescriptor{
	{
		ID:          "gemma-3-4b",
		Name:        "Gemma 3 4B Instruct",
		Family:      "gemma3",
		Parameters:  "4B",
		ContextSize: 8192,
		Multimodal:  true,
		Capabilities: []Capability{
			{Type: CapText, Extensions: textExts, Quality: QualityHigh, Primary: true},
			{Type: CapDocument, Extensions: documentExts, Quality: QualityMedium},
			{Type: CapImage, Extensions: imageExts, Quality: QualityHigh},
		},
		Files: []FileSpec{
			{Name: "gemma-3-4b-it-Q4_K_M.gguf", URL: hf + "ggml-org/gemma-3-4b-it-GGUF/resolve/main/gemma-3-4b-it-Q4_K_M.gguf", SizeBytes: 2_489_757_856, Required: true, Role: RoleModel},
			{Name: "mmproj-model-f16.gguf", URL: hf + "ggml-org/gemma-3-4b-it-GGUF/resolve/main/mmproj-model-f16.gguf", SizeBytes: 851_251_104, Required: true, Role: RoleProjector},
		},
		Hardware: Hardware{MinVRAMMB: 4096, RecommendedVRAMMB: 6144, MinRAMMB: 8192, RecommendedRAMMB: 16384},
	},
	{
		ID:          "qwen2.5-vl-3b",
		Name:        "Qwen 2.5 VL 3B Instruct",
		Family:      "qwen2vl",
		Parameters:  "3B",
		ContextSize: 8192,
		Multimodal:  true,
		Capabilities: []Capability{
			{Type: CapText, Extensions: textExts, Quality: QualityMedium},
			{Type: CapDocument, Extensions: documentExts, Quality: QualityMedium},
			{Type: CapImage, Extensions: imageExts, Quality: QualityHigh, Primary: true},
		},
		Files: []FileSpec{
			{Name: "Qwen2.5-VL-3B-Instruct-Q4_K_M.gguf", URL: hf + "ggml-org/Qwen2.5-VL-3B-Instruct-GGUF/resolve/main/Qwen2.5-VL-3B-Instruct-Q4_K_M.gguf", SizeBytes: 1_929_903_264, Required: true, Role: RoleModel},
			{Name: "mmproj-Qwen2.5-VL-3B-Instruct-f16.gguf", URL: hf + "ggml-org/Qwen2.5-VL-3B-Instruct-GGUF/resolve/main/mmproj-Qwen2.5-VL-3B-Instruct-f16.gguf", SizeBytes: 1_338_428_704, Required: true, Role: RoleProjector},
		},
		Hardware: Hardware{MinVRAMMB: 4096, RecommendedVRAMMB: 6144, MinRAMMB: 8192, RecommendedRAMMB: 16384},
	},
	{
		ID:          "qwen2.5-3b",
		Name:        "Qwen 2.5 3B Instruct",
		Family:      "qwen2",
		Parameters:  "3B",
		ContextSize: 8192,
		Capabilities: []Capability{
			{Type: CapText, Extensions: textExts, Quality: QualityHigh, Primary: true},
			{Type: CapDocument, Extensions: documentExts, Quality: QualityMedium},
		},
		Files: []FileSpec{
			{Name: "qwen2.5-3b-instruct-q4_k_m.gguf", URL: hf + "Qwen/Qwen2.5-3B-Instruct-GGUF/resolve/main/qwen2.5-3b-instruct-q4_k_m.gguf", SizeBytes: 2_104_932_768, Required: true, Role: RoleModel},
		},
		Hardware: Hardware{MinVRAMMB: 3072, RecommendedVRAMMB: 4096, MinRAMMB: 6144, RecommendedRAMMB: 8192},
	},
	{
		ID:          "llama-3.2-1b",
		Name:        "Llama 3.2 1B Instruct",
		Family:      "llama",
		Parameters:  "1B",
		ContextSize: 4096,
		Capabilities: []Capability{
			{Type: CapText, Extensions: textExts, Quality: QualityMedium, Primary: true},
			{Type: CapDocument, Extensions: documentExts, Quality: QualityLow},
		},
		Files: []FileSpec{
			{Name: "llama-3.2-1b-instruct-q4_k_m.gguf", URL: hf + "hugging-quants/Llama-3.2-1B-Instruct-Q4_K_M-GGUF/resolve/main/llama-3.2-1b-instruct-q4_k_m.gguf", SizeBytes: 807_690_656, Required: true, Role: RoleModel},
		},
		Hardware: Hardware{MinVRAMMB: 1536, RecommendedVRAMMB: 2048, MinRAMMB: 4096, RecommendedRAMMB: 8192},
	},
	{
		ID:          "qwen2.5-omni-3b",
		Name:        "Qwen 2.5 Omni 3B",
		Family:      "qwen2.5omni",
		Parameters:  "3B",
		ContextSize: 8192,
		Multimodal:  true,
		Capabilities: []Capability{
			{Type: CapText, Extensions: textExts, Quality: QualityMedium},
			{Type: CapImage, Extensions: imageExts, Quality: QualityMedium},
			{Type: CapAudio, Extensions: audioExts, Quality: QualityMedium, Primary: true},
		},
		Files: []FileSpec{
			{Name: "Qwen2.5-Omni-3B-Q4_K_M.gguf", URL: hf + "ggml-org/Qwen2.5-Omni-3B-GGUF/resolve/main/Qwen2.5-Omni-3B-Q4_K_M.gguf", SizeBytes: 2_104_932_800, Required: true, Role: RoleModel},
			{Name: "mmproj-Qwen2.5-Omni-3B-Q8_0.gguf", URL: hf + "ggml-org/Qwen2.5-Omni-3B-GGUF/resolve/main/mmproj-Qwen2.5-Omni-3B-Q8_0.gguf", SizeBytes: 1_545_000_000, Required: true, Role: RoleProjector},
		},
		Hardware: Hardware{MinVRAMMB: 5120, RecommendedVRAMMB: 8192, MinRAMMB: 8192, RecommendedRAMMB: 16384},
	},
}

var builtinRecommended = []string{"gemma-3-4b", "qwen2.5-vl-3b", "qwen2.5-3b", "llama-3.2-1b", "qwen2.5-omni-3b"}

// Builtin returns the catalog shipped with the binary.
func Builtin() *Catalog {
	c, err := New(builtinModels, builtinRecommended)
	if err != nil {
		panic(err)
	}
	return c
}
