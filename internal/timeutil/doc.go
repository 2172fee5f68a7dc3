// Package timeutil pins every instant the bot handles to one configured
// zone and turns natural-language time expressions into such instants.
package timeutil
