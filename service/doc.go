// Package service turns OpenAI-style chat requests into engine calls.
//
// A GenerationService renders the conversation with a chat template, resolves
// sampling parameters against configured defaults, calls the engine once and
// slices the assistant reply out of the raw output: the echoed prompt is
// removed and the text is cut at the first terminator or stop string.
package service
