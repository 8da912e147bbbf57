package games

// Players take turns naming a geographic place whose first letter matches the last letter of the previous answer
// Answers are checked fuzzily against a fixed list of places, so small typos still count
// A place can only be named once per game; repeats are rejected
// Each turn has a countdown; running out of time costs a life, and a player with no lives left is out
// The game ends when one player remains (or, playing alone, when the lone player runs out of lives)

// Display formats:
// A shared map with a pin for every accepted place
// A running list of previous answers and the current required letter

// Implementation details:
// - Use websockets to push every accepted answer and turn change to all joined players
// - Identify players by a fresh random id per connection; no accounts, no rejoin
// - The first player to join picks the turn time and life count for the room

// How to play
// - Create a game, share the link (or QR code), and wait for friends in the lobby
// - Anyone presses start; the first answer must begin with "A"
// - On your turn, type a place starting with the required letter before the timer runs out
// - Wrong letter, unknown places, and repeats don't cost your turn; only the clock does
