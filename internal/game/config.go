package game

type GameMap string

const (
	MapWorld        GameMap = "World"
	MapEurope       GameMap = "Europe"
	MapMena         GameMap = "Mena"
	MapNorthAmerica GameMap = "NorthAmerica"
	MapOceania      GameMap = "Oceania"
	MapBlackSea     GameMap = "BlackSea"
	MapAfrica       GameMap = "Africa"
	MapAsia         GameMap = "Asia"
	MapMars         GameMap = "Mars"
	MapBritannia    GameMap = "Britannia"
)

type GameType string

const (
	GameTypePublic  GameType = "Public"
	GameTypePrivate GameType = "Private"
)

type Difficulty string

const (
	DifficultyEasy       Difficulty = "Easy"
	DifficultyMedium     Difficulty = "Medium"
	DifficultyHard       Difficulty = "Hard"
	DifficultyImpossible Difficulty = "Impossible"
)

const (
	DefaultPublicBots  = 400
	DefaultPrivateBots = 1000
)

// Config is the mutable part of a game that lobby hosts can edit.
type Config struct {
	GameMap        GameMap    `json:"gameMap"`
	GameType       GameType   `json:"gameType"`
	Difficulty     Difficulty `json:"difficulty"`
	Bots           int        `json:"bots"`
	DisableNPCs    bool       `json:"disableNPCs"`
	InfiniteGold   bool       `json:"infiniteGold"`
	InfiniteTroops bool       `json:"infiniteTroops"`
	InstantBuild   bool       `json:"instantBuild"`
	DisableNukes   bool       `json:"disableNukes"`
}

// PublicConfig is what the hub uses for scheduled lobbies. Only the map varies.
func PublicConfig(m GameMap, bots int) Config {
	return Config{
		GameMap:    m,
		GameType:   GameTypePublic,
		Difficulty: DifficultyMedium,
		Bots:       bots,
	}
}

func PrivateConfig() Config {
	return Config{
		GameMap:    MapWorld,
		GameType:   GameTypePrivate,
		Difficulty: DifficultyMedium,
		Bots:       DefaultPrivateBots,
	}
}
